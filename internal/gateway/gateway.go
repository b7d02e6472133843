// Package gateway talks to the outbound messaging transport. The scheduling
// core only sees the Gateway interface and the normalized Result; delivery
// retries stay inside the client.
package gateway

import "context"

// Result is the normalized outcome of one delivery attempt.
type Result struct {
	Success           bool
	Status            string // "sent", "failed" (rejected) or "error" (transport/server)
	ProviderMessageID string
	HTTPStatus        int
	Error             string
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
	StatusError  = "error"
)

// Gateway delivers one text message to a normalized phone number.
type Gateway interface {
	SendText(ctx context.Context, phone, message string) Result
}
