package capsule

import "unicode/utf8"

// Status is the delivery state of a capsule.
// Transitions: pending -> sent (delivery confirmed) or pending -> failed
// (operator abandon). Both are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// IsValid reports whether s is a known status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Capsule represents one stored submission awaiting or having received delivery.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule
	ID string `json:"id"`

	// Name is the submitter's display name, used in the delivery salutation
	Name string `json:"name"`

	// Contact is the email address the capsule is delivered to
	Contact string `json:"contact"`

	// Message is the submitted text, markdown-rendered at delivery time
	Message string `json:"message"`

	// AttachmentRef points to a stored asset under the uploads directory (nullable)
	AttachmentRef *string `json:"attachment_ref,omitempty"`

	// DeliverAt is the Unix timestamp the capsule becomes due
	DeliverAt int64 `json:"deliver_at"`

	// CreatedAt is the Unix timestamp when the capsule was created
	CreatedAt int64 `json:"created_at"`

	// Status is the delivery state
	Status Status `json:"status"`

	// SentAt is the Unix timestamp of the confirmed delivery (set iff Status is sent)
	SentAt *int64 `json:"sent_at,omitempty"`

	// LastError is the most recent delivery error, kept for reconciliation (nullable)
	LastError *string `json:"last_error,omitempty"`
}

// IsDue reports whether the capsule should be delivered at the given time.
func (c *Capsule) IsDue(now int64) bool {
	return c.Status == StatusPending && c.DeliverAt <= now
}

// CountChars returns the number of characters (runes, not bytes) in s.
func CountChars(s string) int {
	return utf8.RuneCountInString(s)
}
