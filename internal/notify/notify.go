package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bakkerme/channelwatch/internal/core"
	"github.com/bakkerme/channelwatch/internal/outputs/email"
)

// DefaultSubject is used when the watch document does not set one.
const DefaultSubject = "New video or short uploaded"

// SendErrorKind classifies a failed notification.
type SendErrorKind string

const (
	// SendAuthFailed means the transport rejected our credentials.
	// Credentials are shared across all channels, so this is run-fatal.
	SendAuthFailed SendErrorKind = "auth_failed"
	// SendTransportFailed covers every other delivery failure; it is
	// isolated to the one channel being processed.
	SendTransportFailed SendErrorKind = "transport_failed"
)

// SendError is a typed notification failure.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IsAuthFailed reports whether err is a run-fatal credential failure.
func IsAuthFailed(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.Kind == SendAuthFailed
}

// Notifier dispatches a single notification for one detected change.
type Notifier interface {
	Notify(ctx context.Context, event core.NotificationEvent) error
}

// EmailNotifier formats a fixed-subject plain-text message for a new upload
// and hands it to an email sender. One Notify call maps to one full SMTP
// session in the sender.
type EmailNotifier struct {
	sender  email.Sender
	from    string
	to      string
	subject string
	timeout time.Duration
}

func NewEmailNotifier(sender email.Sender, from, to, subject string, timeout time.Duration) (*EmailNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if to == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmailNotifier{
		sender:  sender,
		from:    from,
		to:      to,
		subject: subject,
		timeout: timeout,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, event core.NotificationEvent) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err := n.sender.Send(ctx, email.Message{
		From:    n.from,
		To:      n.to,
		Subject: n.subject,
		Body:    formatBody(event.Item),
	})
	if err != nil {
		return &SendError{Kind: classifySendErr(err), Err: err}
	}
	return nil
}

func formatBody(item core.LatestItem) string {
	var b strings.Builder
	b.WriteString("A new video was uploaded.\n")
	b.WriteString("Title: " + item.Title + "\n")
	b.WriteString("Link: " + item.URL + "\n")
	return b.String()
}

// classifySendErr decides whether a delivery failure was an authentication
// rejection. go-mail wraps SMTP errors opaquely, so classification matches
// the reply text (535 replies and common auth wordings).
func classifySendErr(err error) SendErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "535"),
		strings.Contains(msg, "authentication failed"),
		strings.Contains(msg, "username and password not accepted"),
		strings.Contains(msg, "smtp auth"):
		return SendAuthFailed
	default:
		return SendTransportFailed
	}
}
