package messaging

import (
	"context"

	"sendflow/internal/storage"
)

// Target identifies one send recipient. Exactly one of Contact, ContactID
// or Phone should be set; Contact wins when present (it skips the lookup).
type Target struct {
	Contact   *storage.Contact
	ContactID int64
	Phone     string // raw number, normalized before sending
}

func ToContact(c storage.Contact) Target { return Target{Contact: &c} }
func ToContactID(id int64) Target        { return Target{ContactID: id} }
func ToPhone(p string) Target            { return Target{Phone: p} }

// Result is the executor's normalized send outcome. Execution failures are
// carried here, never as an error return, so callers record them in job
// state instead of branching on them.
type Result struct {
	Success           bool
	Status            string // gateway delivery status
	MessageID         int64  // audit log row, 0 when logging failed or was skipped
	ProviderMessageID string
	Error             string

	// Resolved recipient, for per-target progress entries.
	ContactID   int64
	ContactName string
	Phone       string
}

// Store is the slice of the persistence layer the executor needs.
type Store interface {
	GetContact(ctx context.Context, id int64) (storage.Contact, error)
	AppendMessage(ctx context.Context, m *storage.MessageEntry) error
}
