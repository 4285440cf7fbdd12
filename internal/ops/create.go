package ops

import (
	"crypto/rand"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// CreateInput contains parameters for the Create operation.
type CreateInput struct {
	Name          string  // required
	Contact       string  // required, email address
	Message       string  // required, bounded by config
	AttachmentRef *string // optional; filename under the uploads dir
	DeliverAt     int64   // required, Unix seconds, strictly in the future
}

// CreateOutput contains the result of the Create operation.
type CreateOutput struct {
	capsule.Capsule // embedded (copy, not pointer)
}

// Create validates and stores a new pending capsule.
func Create(database *sql.DB, cfg *config.Config, input CreateInput) (*CreateOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}

	contact, err := validateContact(input.Contact)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Message) == "" {
		return nil, errors.NewInvalidRequest("message is required")
	}
	if chars := capsule.CountChars(input.Message); chars > cfg.MessageMaxChars {
		return nil, errors.NewMessageTooLong(cfg.MessageMaxChars, chars)
	}

	now := time.Now().Unix()
	if input.DeliverAt <= now {
		return nil, errors.NewInvalidRequest("deliver_at must be in the future")
	}

	var attachmentRef *string
	if input.AttachmentRef != nil {
		ref := strings.TrimSpace(*input.AttachmentRef)
		if ref != "" {
			attachmentRef = &ref
		}
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	c := &capsule.Capsule{
		ID:            id,
		Name:          name,
		Contact:       contact,
		Message:       input.Message,
		AttachmentRef: attachmentRef,
		DeliverAt:     input.DeliverAt,
		CreatedAt:     now,
		Status:        capsule.StatusPending,
	}

	if err := db.Insert(database, c); err != nil {
		return nil, err
	}

	return &CreateOutput{Capsule: *c}, nil
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
