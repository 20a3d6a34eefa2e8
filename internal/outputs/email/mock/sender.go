package mock

import (
	"context"

	"github.com/bakkerme/channelwatch/internal/outputs/email"
)

type Sender struct {
	Messages []email.Message
	Err      error
	// ErrOnce fails only the first send, for retry-on-next-run tests.
	ErrOnce error
}

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	_ = ctx
	if s.Err != nil {
		return s.Err
	}
	if s.ErrOnce != nil {
		err := s.ErrOnce
		s.ErrOnce = nil
		return err
	}
	s.Messages = append(s.Messages, message)
	return nil
}
