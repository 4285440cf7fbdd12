package ops

import (
	"database/sql"
	"strings"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// GetInput contains parameters for the Get operation.
type GetInput struct {
	ID string
}

// GetOutput contains the result of the Get operation.
type GetOutput struct {
	capsule.Capsule // embedded (copy, not pointer)
}

// Get retrieves a capsule by ID.
func Get(database *sql.DB, input GetInput) (*GetOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	c, err := db.GetByID(database, id)
	if err != nil {
		return nil, err
	}

	return &GetOutput{Capsule: *c}, nil
}
