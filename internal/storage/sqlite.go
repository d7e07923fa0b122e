package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	logx "coinbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("sqlite opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- accounts ----

type rowScanner interface {
	Scan(dest ...any) error
}

const accountCols = `user_id, COALESCE(username, ''), balance, daily_claimed, updated_at`

func scanAccount(r rowScanner) (Account, error) {
	var (
		a       Account
		claimed int
		updated int64
	)
	if err := r.Scan(&a.UserID, &a.Username, &a.Balance, &claimed, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.DailyClaimed = claimed != 0
	a.UpdatedAt = time.UnixMilli(updated)
	return a, nil
}

func (s *sqliteStore) Account(ctx context.Context, userID int64) (Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID))
}

// Credit adds amount (which may be negative) to the account, creating it when missing.
func (s *sqliteStore) Credit(ctx context.Context, userID int64, username string, amount int64) (Account, error) {
	var out Account
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts(user_id, username, balance, updated_at) VALUES(?,?,0,?)
			 ON CONFLICT(user_id) DO UPDATE SET username = COALESCE(excluded.username, accounts.username)`,
			userID, nullStr(username), s.now().UnixMilli(),
		); err != nil {
			return err
		}
		a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID))
		if err != nil {
			return err
		}
		if a.Balance+amount < 0 {
			return ErrInsufficientFunds
		}
		now := s.now().UnixMilli()
		a.Balance += amount
		a.UpdatedAt = time.UnixMilli(now)
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = ?, updated_at = ? WHERE user_id = ?`,
			a.Balance, now, userID); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// ResetDaily clears every daily claim and credits allowance to every account.
func (s *sqliteStore) ResetDaily(ctx context.Context, allowance int64) (int, error) {
	if allowance < 0 {
		return 0, fmt.Errorf("%w: negative allowance", ErrInvalidArgument)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET daily_claimed = 0, balance = balance + ?, updated_at = ?`,
		allowance, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ---- draw ----

func (s *sqliteStore) BuyTickets(ctx context.Context, userID int64, count int, price int64) (TicketHolding, error) {
	if count <= 0 || count > MaxTickets || price < 0 {
		return TicketHolding{}, fmt.Errorf("%w: count=%d price=%d", ErrInvalidArgument, count, price)
	}
	if price > 0 && int64(count) > math.MaxInt64/price {
		return TicketHolding{}, fmt.Errorf("%w: cost of %d tickets at %d overflows", ErrInvalidArgument, count, price)
	}
	cost := int64(count) * price

	var out TicketHolding
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE user_id = ?`, userID))
		if err != nil {
			return err
		}
		var held int
		err = tx.QueryRowContext(ctx, `SELECT count FROM tickets WHERE user_id = ?`, userID).Scan(&held)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if held+count > MaxTickets {
			return fmt.Errorf("%w: holding would exceed %d tickets", ErrInvalidArgument, MaxTickets)
		}
		if a.Balance < cost {
			return ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE user_id = ?`,
			cost, s.now().UnixMilli(), userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tickets(user_id, count, paid) VALUES(?, ?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET count = tickets.count + excluded.count, paid = tickets.paid + excluded.paid`,
			userID, count, cost); err != nil {
			return err
		}
		out.UserID = userID
		return tx.QueryRowContext(ctx, `SELECT count, paid FROM tickets WHERE user_id = ?`, userID).Scan(&out.Tickets, &out.Paid)
	})
	return out, err
}

func (s *sqliteStore) Tickets(ctx context.Context) ([]TicketHolding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, count, paid FROM tickets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TicketHolding
	for rows.Next() {
		var h TicketHolding
		if err := rows.Scan(&h.UserID, &h.Tickets, &h.Paid); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SettleDraw pays the pot to the winner, clears all tickets and records the result
// in one transaction.
func (s *sqliteStore) SettleDraw(ctx context.Context, r DrawResult) (DrawResult, error) {
	if r.At.IsZero() {
		r.At = s.now()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if r.WinnerID != 0 && r.Pot > 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO accounts(user_id, balance, updated_at) VALUES(?,?,?)
				 ON CONFLICT(user_id) DO UPDATE SET balance = accounts.balance + excluded.balance, updated_at = excluded.updated_at`,
				r.WinnerID, r.Pot, r.At.UnixMilli()); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tickets`); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO draws(at, winner_id, pot, tickets, entrants) VALUES(?,?,?,?,?)`,
			r.At.UnixMilli(), r.WinnerID, r.Pot, r.Tickets, r.Entrants)
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	return r, err
}

func (s *sqliteStore) LastDraw(ctx context.Context) (DrawResult, error) {
	var (
		r  DrawResult
		at int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, at, winner_id, pot, tickets, entrants FROM draws ORDER BY id DESC LIMIT 1`,
	).Scan(&r.ID, &at, &r.WinnerID, &r.Pot, &r.Tickets, &r.Entrants)
	if errors.Is(err, sql.ErrNoRows) {
		return DrawResult{}, ErrNotFound
	}
	if err != nil {
		return DrawResult{}, err
	}
	r.At = time.UnixMilli(at)
	return r, nil
}

// ---- events ----

const eventCols = `id, title, chat_id, thread_id, starts_at, created_at`

func scanEvent(r rowScanner) (Event, error) {
	var (
		e               Event
		starts, created int64
	)
	if err := r.Scan(&e.ID, &e.Title, &e.ChatID, &e.ThreadID, &starts, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	e.StartsAt = time.UnixMilli(starts)
	e.CreatedAt = time.UnixMilli(created)
	return e, nil
}

// SaveEvent inserts or updates e. An empty ID gets a fresh UUID; CreatedAt is kept on update.
func (s *sqliteStore) SaveEvent(ctx context.Context, e Event) (Event, error) {
	if strings.TrimSpace(e.Title) == "" || e.StartsAt.IsZero() {
		return Event{}, fmt.Errorf("%w: event needs a title and a start time", ErrInvalidArgument)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(`+eventCols+`) VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, chat_id = excluded.chat_id,
		   thread_id = excluded.thread_id, starts_at = excluded.starts_at`,
		e.ID, e.Title, e.ChatID, e.ThreadID, e.StartsAt.UnixMilli(), s.now().UnixMilli(),
	)
	if err != nil {
		return Event{}, err
	}
	return s.Event(ctx, e.ID)
}

func (s *sqliteStore) Event(ctx context.Context, id string) (Event, error) {
	return scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id))
}

func (s *sqliteStore) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EventsAfter lists events starting strictly after t, soonest first.
func (s *sqliteStore) EventsAfter(ctx context.Context, t time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+` FROM events WHERE starts_at > ? ORDER BY starts_at, id`, t.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- job runs ----

func (s *sqliteStore) AppendRun(ctx context.Context, r JobRun) error {
	if r.At.IsZero() {
		r.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(at, job, tick, took_ms, err) VALUES(?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Job, r.Tick.UTC().Format(time.RFC3339Nano), r.TookMS, nullStr(r.Err),
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, job, tick, took_ms, COALESCE(err, '') FROM job_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobRun
	for rows.Next() {
		var (
			r        JobRun
			at, tick string
		)
		if err := rows.Scan(&at, &r.Job, &tick, &r.TookMS, &r.Err); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Tick, _ = time.Parse(time.RFC3339Nano, tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
