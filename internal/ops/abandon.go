package ops

import (
	"database/sql"
	"strings"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// AbandonInput contains parameters for the Abandon operation.
type AbandonInput struct {
	ID     string
	Reason string // required; stored as last_error
}

// AbandonOutput contains the result of the Abandon operation.
type AbandonOutput struct {
	capsule.Capsule // embedded (copy, not pointer)
}

// Abandon terminally marks a pending capsule as failed. This is the only
// path to the failed status; the scheduler leaves undeliverable capsules
// pending so operators decide when to give up on a recipient.
func Abandon(database *sql.DB, input AbandonInput) (*AbandonOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, errors.NewInvalidRequest("reason is required")
	}

	c, err := db.MarkFailed(database, id, reason)
	if err != nil {
		return nil, err
	}

	return &AbandonOutput{Capsule: *c}, nil
}
