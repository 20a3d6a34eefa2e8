package email

import "context"

// Message is one plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers a message over one full transport session. Implementations
// must not reuse connections across sends; a failed session for one message
// must not affect the next.
type Sender interface {
	Send(ctx context.Context, message Message) error
}
