package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Config configures storage. Path ":memory:" keeps everything in memory.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Store is the persistence API used by features, the scheduler and ops.
// Implementations are safe for concurrent use.
type Store interface {
	// Accounts.
	Account(ctx context.Context, userID int64) (Account, error)
	Credit(ctx context.Context, userID int64, username string, amount int64) (Account, error)
	ResetDaily(ctx context.Context, allowance int64) (int, error)

	// Draw.
	BuyTickets(ctx context.Context, userID int64, count int, price int64) (TicketHolding, error)
	Tickets(ctx context.Context) ([]TicketHolding, error)
	SettleDraw(ctx context.Context, r DrawResult) (DrawResult, error)
	LastDraw(ctx context.Context) (DrawResult, error)

	// Events.
	SaveEvent(ctx context.Context, e Event) (Event, error)
	Event(ctx context.Context, id string) (Event, error)
	DeleteEvent(ctx context.Context, id string) error
	EventsAfter(ctx context.Context, t time.Time) ([]Event, error)

	// Job run audit.
	AppendRun(ctx context.Context, r JobRun) error
	RecentRuns(ctx context.Context, limit int) ([]JobRun, error)

	Close() error
}

type Account struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	Balance      int64     `json:"balance"`
	DailyClaimed bool      `json:"daily_claimed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MaxTickets caps the tickets one member may hold in a single draw.
const MaxTickets = 1_000_000

// TicketHolding is one member's entry. Paid is what the tickets cost when they
// were bought; the pot is the sum of Paid, whatever the price is at draw time.
type TicketHolding struct {
	UserID  int64 `json:"user_id"`
	Tickets int   `json:"tickets"`
	Paid    int64 `json:"paid"`
}

// DrawResult records one settled draw. WinnerID is 0 when nobody entered.
type DrawResult struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	WinnerID int64     `json:"winner_id"`
	Pot      int64     `json:"pot"`
	Tickets  int       `json:"tickets"`
	Entrants int       `json:"entrants"`
}

// Event is a scheduled happening that members get reminded about.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ChatID    int64     `json:"chat_id"`
	ThreadID  int       `json:"thread_id,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
}

// JobRun is one line of the job run audit log.
type JobRun struct {
	At     time.Time `json:"at"`
	Job    string    `json:"job"`
	Tick   time.Time `json:"tick"`
	TookMS int64     `json:"took_ms"`
	Err    string    `json:"err,omitempty"`
}
