// Package messaging is the send executor: it resolves a target to a
// normalized phone number, hands the text to the messaging gateway, and
// appends a message-log entry for every attempt.
package messaging

import (
	"context"
	"errors"
	"fmt"

	"sendflow/internal/gateway"
	"sendflow/internal/storage"
	logx "sendflow/pkg/logx"
	"sendflow/pkg/phone"
)

type Config struct {
	Provider string // audit-log provider label, default "z-api"
}

type Service struct {
	cfg   Config
	store Store
	gw    gateway.Gateway
	log   logx.Logger
}

func New(cfg Config, store Store, gw gateway.Gateway, log logx.Logger) *Service {
	if cfg.Provider == "" {
		cfg.Provider = "z-api"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, gw: gw, log: log}
}

// Send performs one synchronous delivery. The outcome is always a Result;
// resolution failures (unknown contact, bad phone) short-circuit before the
// gateway is called.
func (s *Service) Send(ctx context.Context, t Target, text string) Result {
	var contact *storage.Contact
	switch {
	case t.Contact != nil:
		contact = t.Contact
	case t.ContactID != 0:
		c, err := s.store.GetContact(ctx, t.ContactID)
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Status: gateway.StatusFailed, ContactID: t.ContactID,
				Error: fmt.Sprintf("contact %d not found", t.ContactID)}
		}
		if err != nil {
			return Result{Status: gateway.StatusError, ContactID: t.ContactID, Error: err.Error()}
		}
		contact = &c
	}

	var number string
	if contact != nil {
		number = contact.Phone
	} else {
		normalized, err := phone.NormalizeE164(t.Phone)
		if err != nil {
			return Result{Status: gateway.StatusFailed, Phone: t.Phone, Error: err.Error()}
		}
		number = normalized
	}

	res := s.gw.SendText(ctx, number, text)

	entry := storage.MessageEntry{
		Phone:             number,
		Content:           text,
		Status:            res.Status,
		Provider:          s.cfg.Provider,
		ProviderMessageID: res.ProviderMessageID,
		Error:             res.Error,
	}
	if contact != nil {
		entry.ContactID = contact.ID
		entry.Phone = "" // number comes from the contact row
	}
	// The log is an audit sink; a write failure must not fail the send.
	if err := s.store.AppendMessage(ctx, &entry); err != nil {
		s.log.Warn("message log write failed", logx.Err(err))
	}

	out := Result{
		Success:           res.Success,
		Status:            res.Status,
		MessageID:         entry.ID,
		ProviderMessageID: res.ProviderMessageID,
		Error:             res.Error,
		Phone:             number,
	}
	if contact != nil {
		out.ContactID = contact.ID
		out.ContactName = contact.Name
	}
	return out
}
