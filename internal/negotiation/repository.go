package negotiation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const sessionColumns = `id, product_id, customer_id, vendor_id, channel_id, status,
	original_price, proposed_price, final_price, attempts, max_attempts, expires_at,
	accepted_at, rejected_at, result_reason, time_to_complete_minutes,
	added_to_cart, cart_item_id, created_at, updated_at`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository is the Postgres Store. Update holds a row lock (SELECT ... FOR
// UPDATE) for the duration of the callback, which serializes writers of the
// same session across processes.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, s *Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, sessionArgs(s)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errSessionExists
		}
		return err
	}

	if err := insertMessages(ctx, tx, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.markSaved()
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}

	if err := loadMessages(ctx, r.db, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) FindInProgress(ctx context.Context, productID, customerID string) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE product_id = $1 AND customer_id = $2 AND status = 'in_progress'
	`, productID, customerID))
	if err != nil {
		return nil, err
	}

	if err := loadMessages(ctx, r.db, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	s, err := scanSession(tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}

	if err := loadMessages(ctx, tx, s); err != nil {
		return nil, err
	}

	if err := fn(s); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET
			status = $2, proposed_price = $3, final_price = $4, attempts = $5, expires_at = $6,
			accepted_at = $7, rejected_at = $8, result_reason = $9, time_to_complete_minutes = $10,
			added_to_cart = $11, cart_item_id = $12, updated_at = $13
		WHERE id = $1
	`, s.ID, s.Status, s.ProposedPrice, s.FinalPrice, s.Attempts, s.ExpiresAt,
		s.Result.AcceptedAt, s.Result.RejectedAt, s.Result.Reason, s.Result.TimeToCompleteMinutes,
		s.AddedToCart, s.CartItemID, s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := insertMessages(ctx, tx, s); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.markSaved()
	return s, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Session, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE ($1 = '' OR customer_id = $1)
		  AND ($2 = '' OR vendor_id = $2)
		  AND ($3 = '' OR product_id = $3)
		  AND (NOT $4 OR (status = 'in_progress' AND expires_at > $5))
		ORDER BY created_at DESC
		LIMIT $6
	`, filter.CustomerID, filter.VendorID, filter.ProductID, filter.ActiveOnly, filter.Now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sessionMap := make(map[string]*Session)
	var ids []string
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessionMap[s.ID] = s
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []*Session{}, nil
	}

	msgRows, err := r.db.QueryContext(ctx, `
		SELECT session_id, id, sender, text, proposed_price, decision, created_at
		FROM messages
		WHERE session_id = ANY($1)
		ORDER BY session_id, seq
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = msgRows.Close() }()

	for msgRows.Next() {
		var sessionID string
		m, err := scanMessage(msgRows, &sessionID)
		if err != nil {
			return nil, err
		}
		s := sessionMap[sessionID]
		s.messages = append(s.messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s := sessionMap[id]
		s.markSaved()
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id
		FROM sessions
		WHERE status = 'in_progress' AND expires_at <= $1
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE status = 'expired' AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *Repository) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status,
		       COUNT(*),
		       COALESCE(AVG((original_price - final_price)::float8 * 100 / NULLIF(original_price, 0)), 0),
		       COALESCE(AVG(time_to_complete_minutes), 0)
		FROM sessions
		WHERE ($1 = '' OR vendor_id = $1)
		  AND ($2 = '' OR product_id = $2)
		GROUP BY status
	`, filter.VendorID, filter.ProductID)
	if err != nil {
		return Stats{}, err
	}
	defer func() { _ = rows.Close() }()

	st := Stats{ByStatus: make(map[Status]int)}
	for rows.Next() {
		var (
			status  Status
			count   int
			savings float64
			minutes float64
		)
		if err := rows.Scan(&status, &count, &savings, &minutes); err != nil {
			return Stats{}, err
		}
		st.ByStatus[status] = count
		if status == StatusAccepted {
			st.AverageSavingsPercent = savings
			st.AverageMinutesToClose = minutes
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	finishStats(&st)
	return st, nil
}

func sessionArgs(s *Session) []any {
	return []any{
		s.ID, s.ProductID, s.CustomerID, s.VendorID, s.ChannelID, s.Status,
		s.OriginalPrice, s.ProposedPrice, s.FinalPrice, s.Attempts, s.MaxAttempts, s.ExpiresAt,
		s.Result.AcceptedAt, s.Result.RejectedAt, s.Result.Reason, s.Result.TimeToCompleteMinutes,
		s.AddedToCart, s.CartItemID, s.CreatedAt, s.UpdatedAt,
	}
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s             Session
		proposedPrice sql.NullInt64
		finalPrice    sql.NullInt64
		acceptedAt    sql.NullTime
		rejectedAt    sql.NullTime
		minutes       sql.NullInt64
	)

	err := row.Scan(&s.ID, &s.ProductID, &s.CustomerID, &s.VendorID, &s.ChannelID, &s.Status,
		&s.OriginalPrice, &proposedPrice, &finalPrice, &s.Attempts, &s.MaxAttempts, &s.ExpiresAt,
		&acceptedAt, &rejectedAt, &s.Result.Reason, &minutes,
		&s.AddedToCart, &s.CartItemID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if proposedPrice.Valid {
		s.ProposedPrice = &proposedPrice.Int64
	}
	if finalPrice.Valid {
		s.FinalPrice = &finalPrice.Int64
	}
	if acceptedAt.Valid {
		s.Result.AcceptedAt = &acceptedAt.Time
	}
	if rejectedAt.Valid {
		s.Result.RejectedAt = &rejectedAt.Time
	}
	if minutes.Valid {
		v := int(minutes.Int64)
		s.Result.TimeToCompleteMinutes = &v
	}
	return &s, nil
}

func scanMessage(row rowScanner, sessionID *string) (Message, error) {
	var (
		m             Message
		proposedPrice sql.NullInt64
	)
	dest := []any{&m.ID, &m.Sender, &m.Text, &proposedPrice, &m.Decision, &m.CreatedAt}
	if sessionID != nil {
		dest = append([]any{sessionID}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return Message{}, err
	}
	if proposedPrice.Valid {
		m.ProposedPrice = &proposedPrice.Int64
	}
	return m, nil
}

func loadMessages(ctx context.Context, q querier, s *Session) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sender, text, proposed_price, decision, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY seq
	`, s.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		m, err := scanMessage(rows, nil)
		if err != nil {
			return err
		}
		s.messages = append(s.messages, m)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.markSaved()
	return nil
}

// insertMessages writes only the messages appended since the session was
// loaded; existing rows are never rewritten.
func insertMessages(ctx context.Context, q querier, s *Session) error {
	for i, m := range s.unsavedMessages() {
		_, err := q.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, id, sender, text, proposed_price, decision, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, s.ID, s.persisted+i, m.ID, m.Sender, m.Text, m.ProposedPrice, m.Decision, m.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
