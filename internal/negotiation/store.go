package negotiation

import (
	"context"
	"time"
)

// Store persists sessions. Update must give fn exclusive access to the
// session for its whole duration and commit only when fn returns nil.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	FindInProgress(ctx context.Context, productID, customerID string) (*Session, error)
	Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error)
	List(ctx context.Context, filter ListFilter) ([]*Session, error)
	ListOverdue(ctx context.Context, now time.Time) ([]string, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	Stats(ctx context.Context, filter StatsFilter) (Stats, error)
}

type ListFilter struct {
	CustomerID string
	VendorID   string
	ProductID  string
	// ActiveOnly applies the same predicate as Session.IsActive at Now.
	ActiveOnly bool
	Now        time.Time
	Limit      int
}

type StatsFilter struct {
	VendorID  string
	ProductID string
}

type Stats struct {
	Total                 int            `json:"total"`
	ByStatus              map[Status]int `json:"by_status"`
	AcceptanceRate        float64        `json:"acceptance_rate"`
	AverageSavingsPercent float64        `json:"average_savings_percent"`
	AverageMinutesToClose float64        `json:"average_minutes_to_close"`
}

const defaultListLimit = 100

// finishStats derives the rates once ByStatus and the accepted-session
// averages are filled in.
func finishStats(st *Stats) {
	closed := 0
	for status, n := range st.ByStatus {
		st.Total += n
		if status.Terminal() {
			closed += n
		}
	}
	if closed > 0 {
		st.AcceptanceRate = float64(st.ByStatus[StatusAccepted]) / float64(closed)
	}
}
