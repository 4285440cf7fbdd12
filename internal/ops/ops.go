package ops

import (
	"net/mail"
	"strings"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies the default and maximum page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// validateContact checks that contact parses as an email address and
// returns its normalized (trimmed) form.
func validateContact(contact string) (string, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "", errors.NewInvalidRequest("contact is required")
	}
	addr, err := mail.ParseAddress(contact)
	if err != nil {
		return "", errors.NewInvalidRequest("contact must be a valid email address")
	}
	return addr.Address, nil
}
