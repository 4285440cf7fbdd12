package db

import (
	"database/sql"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

const capsuleColumns = `id, name, contact, message, attachment_ref,
	deliver_at, created_at, status, sent_at, last_error`

// Insert stores a new capsule in the database.
func Insert(db *sql.DB, c *capsule.Capsule) error {
	attachmentRef := toNullString(c.AttachmentRef)

	query := `
		INSERT INTO capsules (
			id, name, contact, message, attachment_ref,
			deliver_at, created_at, status, sent_at, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
	`

	_, err := db.Exec(query,
		c.ID, c.Name, c.Contact, c.Message, attachmentRef,
		c.DeliverAt, c.CreatedAt, string(c.Status),
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	return nil
}

// GetByID retrieves a capsule by its ULID.
func GetByID(db *sql.DB, id string) (*capsule.Capsule, error) {
	query := `SELECT ` + capsuleColumns + ` FROM capsules WHERE id = ?`

	row := db.QueryRow(query, id)
	c, err := scanCapsule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return c, nil
}

// FetchDue returns all pending capsules whose delivery time has arrived,
// ordered earliest-due first. Safe to call repeatedly; read-only.
func FetchDue(db *sql.DB, now int64) ([]capsule.Capsule, error) {
	query := `
		SELECT ` + capsuleColumns + `
		FROM capsules
		WHERE status = ? AND deliver_at <= ?
		ORDER BY deliver_at ASC, created_at ASC
	`

	rows, err := db.Query(query, string(capsule.StatusPending), now)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var due []capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		due = append(due, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return due, nil
}

// MarkSent atomically transitions one capsule from pending to sent and
// stamps sent_at. A second call for the same id fails with ALREADY_SENT
// (or NOT_FOUND if the id never existed); callers performing delivery must
// not treat that as a retryable error.
func MarkSent(db *sql.DB, id string) (*capsule.Capsule, error) {
	now := time.Now().Unix()

	query := `
		UPDATE capsules
		SET status = ?, sent_at = ?, last_error = NULL
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(capsule.StatusSent), now, id, string(capsule.StatusPending))
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return nil, transitionConflict(db, id)
	}

	return GetByID(db, id)
}

// MarkFailed transitions one capsule from pending to failed, recording the
// reason. This is the operator-initiated terminal transition; the scheduler
// never calls it.
func MarkFailed(db *sql.DB, id, reason string) (*capsule.Capsule, error) {
	query := `
		UPDATE capsules
		SET status = ?, last_error = ?
		WHERE id = ? AND status = ?
	`

	result, err := db.Exec(query, string(capsule.StatusFailed), reason, id, string(capsule.StatusPending))
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return nil, transitionConflict(db, id)
	}

	return GetByID(db, id)
}

// RecordError stores the most recent delivery error on a still-pending
// capsule so failed deliveries are visible for reconciliation. The capsule
// stays pending and is re-attempted on the next cycle.
func RecordError(db *sql.DB, id, message string) error {
	query := `
		UPDATE capsules
		SET last_error = ?
		WHERE id = ? AND status = ?
	`

	_, err := db.Exec(query, message, id, string(capsule.StatusPending))
	if err != nil {
		return errors.NewInternal(err)
	}

	return nil
}

// transitionConflict explains a zero-row status transition: the capsule is
// either missing or already terminal.
func transitionConflict(db *sql.DB, id string) error {
	c, err := GetByID(db, id)
	if err != nil {
		return err // NOT_FOUND or internal
	}
	switch c.Status {
	case capsule.StatusSent:
		return errors.NewAlreadySent(id)
	case capsule.StatusFailed:
		return errors.NewAlreadyFailed(id)
	}
	return errors.NewInternal(nil)
}

// ListFilter narrows and pages a capsule listing.
type ListFilter struct {
	Status  string // optional; one of pending|sent|failed
	Contact string // optional; exact match
	Limit   int
	Offset  int
}

// List returns capsules newest-first, with the total row count for the filter.
func List(db *sql.DB, filter ListFilter) ([]capsule.Capsule, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Contact != "" {
		where += " AND contact = ?"
		args = append(args, filter.Contact)
	}

	var total int
	if err := db.QueryRow("SELECT COUNT(*) FROM capsules"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + capsuleColumns + ` FROM capsules` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []capsule.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return items, total, nil
}

// Stats summarizes capsule counts per status plus how many are due right now.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	DueNow  int `json:"due_now"`
}

// GetStats computes store-wide counters in a single scan.
func GetStats(db *sql.DB, now int64) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' AND deliver_at <= ? THEN 1 ELSE 0 END), 0)
		FROM capsules
	`

	s := &Stats{}
	err := db.QueryRow(query, now).Scan(&s.Total, &s.Pending, &s.Sent, &s.Failed, &s.DueNow)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	return s, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanCapsule helpers.
type scanner interface {
	Scan(dest ...any) error
}

// scanCapsule scans a single row into a Capsule struct.
func scanCapsule(row scanner) (*capsule.Capsule, error) {
	var (
		c             capsule.Capsule
		status        string
		attachmentRef sql.NullString
		sentAt        sql.NullInt64
		lastError     sql.NullString
	)

	err := row.Scan(
		&c.ID, &c.Name, &c.Contact, &c.Message, &attachmentRef,
		&c.DeliverAt, &c.CreatedAt, &status, &sentAt, &lastError,
	)
	if err != nil {
		return nil, err
	}

	c.Status = capsule.Status(status)
	c.AttachmentRef = fromNullString(attachmentRef)
	c.LastError = fromNullString(lastError)
	if sentAt.Valid {
		c.SentAt = &sentAt.Int64
	}

	return &c, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
