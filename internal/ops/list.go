package ops

import (
	"database/sql"
	"strings"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status  string // optional: pending|sent|failed
	Contact string // optional: exact email match
	Limit   int
	Offset  int
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []capsule.Capsule `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// List returns capsules newest-first with optional status/contact filters.
func List(database *sql.DB, input ListInput) (*ListOutput, error) {
	status := strings.TrimSpace(input.Status)
	if status != "" && !capsule.Status(status).IsValid() {
		return nil, errors.NewInvalidRequest("status must be one of: pending, sent, failed")
	}

	limit := clampLimit(input.Limit)
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	items, total, err := db.List(database, db.ListFilter{
		Status:  status,
		Contact: strings.TrimSpace(input.Contact),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		return nil, err
	}

	if items == nil {
		items = []capsule.Capsule{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}
