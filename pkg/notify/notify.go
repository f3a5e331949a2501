// Package notify delivers workflow notifications over HTTP webhooks, Slack or the log.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dukex/flowpilot/pkg/protocol"
)

// ErrDeliveryRejected is returned when the receiving endpoint answers with a non-2xx status.
var ErrDeliveryRejected = errors.New("notification rejected")

// Requester is the egress call notifiers send through.
type Requester interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body any) (*protocol.HTTPResponse, error)
}

// Webhook posts the notification as JSON to a fixed URL.
type Webhook struct {
	url       string
	requester Requester
}

func NewWebhook(url string, requester Requester) *Webhook {
	return &Webhook{url: url, requester: requester}
}

func (w *Webhook) Notify(ctx context.Context, notification protocol.Notification) error {
	return deliver(ctx, w.requester, w.url, notification)
}

// Slack posts to an incoming-webhook URL.
type Slack struct {
	url       string
	requester Requester
}

func NewSlack(url string, requester Requester) *Slack {
	return &Slack{url: url, requester: requester}
}

func (s *Slack) Notify(ctx context.Context, notification protocol.Notification) error {
	text := notification.Message
	if notification.Subject != "" {
		text = "*" + notification.Subject + "*\n" + text
	}

	payload := map[string]any{"text": text}
	if notification.Recipient != "" {
		payload["channel"] = notification.Recipient
	}

	return deliver(ctx, s.requester, s.url, payload)
}

func deliver(ctx context.Context, requester Requester, url string, payload any) error {
	response, err := requester.Do(ctx, http.MethodPost, url, nil, payload)
	if err != nil {
		return err
	}

	if !response.OK {
		return fmt.Errorf("%w: status %d", ErrDeliveryRejected, response.Status)
	}

	return nil
}

// Log writes notifications to the logger. It is the notifier of last resort in development.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("module", "notify")}
}

func (l *Log) Notify(ctx context.Context, notification protocol.Notification) error {
	l.logger.InfoContext(ctx, "Notification",
		"channel", notification.Channel,
		"recipient", notification.Recipient,
		"subject", notification.Subject,
		"message", notification.Message,
		"org_id", notification.OrgID,
	)

	return nil
}

// Router picks a notifier by channel and falls back to a default one.
type Router struct {
	channels map[string]protocol.Notifier
	fallback protocol.Notifier
}

func NewRouter(fallback protocol.Notifier) *Router {
	return &Router{channels: make(map[string]protocol.Notifier), fallback: fallback}
}

// Route sends notifications of channel through notifier.
func (r *Router) Route(channel string, notifier protocol.Notifier) *Router {
	r.channels[channel] = notifier

	return r
}

func (r *Router) Notify(ctx context.Context, notification protocol.Notification) error {
	notifier, ok := r.channels[notification.Channel]
	if !ok {
		notifier = r.fallback
	}

	return notifier.Notify(ctx, notification)
}
