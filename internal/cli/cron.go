package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"coinbot/internal/task/schedule"
)

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect schedule expressions",
		Long: `Schedule expressions have six or seven space separated fields:

  sec min hour day-of-month month day-of-week [year]

The optional year field accepts *, values, ranges, lists and steps.`,
	}
	cmd.AddCommand(newCronNextCmd(), newCronCheckCmd())
	return cmd
}

func newCronNextCmd() *cobra.Command {
	var (
		n  int
		tz string
	)
	cmd := &cobra.Command{
		Use:   "next <expr>",
		Short: "Print the next occurrences of an expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("-n must be positive")
			}
			loc, err := loadLocation(tz)
			if err != nil {
				return err
			}
			s, err := schedule.Parse(args[0], loc)
			if err != nil {
				return err
			}
			now := time.Now().In(loc)
			occ := s.Take(now, n)
			out := cmd.OutOrStdout()
			if len(occ) == 0 {
				fmt.Fprintln(out, "no upcoming occurrences")
				return nil
			}
			for _, t := range occ {
				fmt.Fprintf(out, "%s  (%s)\n", t.Format("2006-01-02 15:04:05 Mon MST"), humanize.RelTime(now, t, "from now", "ago"))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 5, "number of occurrences")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default local)")
	return cmd
}

func newCronCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <expr>",
		Short: "Validate an expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := schedule.Parse(args[0], time.Local)
			if err != nil {
				return err
			}
			kind := "recurring"
			if s.Pinned() {
				kind = "year-restricted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s (%s)\n", s.Expr(), kind)
			return nil
		},
	}
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("--tz: %w", err)
	}
	return loc, nil
}
