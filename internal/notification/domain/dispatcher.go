package domain

import (
	"context"
	"errors"
)

type Template string

const (
	TemplateEsimReady     Template = "esim_ready"
	TemplateOrderRefunded Template = "order_refunded"
)

type Message struct {
	Template  Template
	Recipient string
	Variables map[string]any
}

var (
	ErrNoRecipient     = errors.New("notification_no_recipient")
	ErrUnknownTemplate = errors.New("notification_unknown_template")
)

// Dispatcher delivers one templated message. A returned error means the
// message was not delivered; callers log it and move on.
//
//go:generate mockgen -source=dispatcher.go -destination=../mocks/mock_dispatcher.go -package=mocks
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}
