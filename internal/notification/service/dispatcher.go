package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/simstore/internal/notification/domain"
	"github.com/smallbiznis/simstore/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Email email.Provider
}

type EmailDispatcher struct {
	log   *zap.Logger
	email email.Provider
}

func New(p Params) domain.Dispatcher {
	return &EmailDispatcher{
		log:   p.Log.Named("notification.dispatcher"),
		email: p.Email,
	}
}

func (d *EmailDispatcher) Send(ctx context.Context, msg domain.Message) error {
	recipient := strings.TrimSpace(msg.Recipient)
	if recipient == "" {
		return domain.ErrNoRecipient
	}
	switch msg.Template {
	case domain.TemplateEsimReady, domain.TemplateOrderRefunded:
	default:
		return domain.ErrUnknownTemplate
	}

	if err := d.email.SendTemplate(ctx, []string{recipient}, string(msg.Template), msg.Variables); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("template", string(msg.Template)),
			zap.Error(err),
		)
		return err
	}
	d.log.Debug("notification delivered", zap.String("template", string(msg.Template)))
	return nil
}
