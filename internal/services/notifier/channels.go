package notifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/educapro/notifier/internal/domain/notification"
)

// ChannelSender is the outbound delivery capability for one channel. A
// single Send is one attempt: no internal retry, the lifecycle engine
// records the outcome.
type ChannelSender interface {
	Send(ctx context.Context, to, subject, body string) (messageID string, err error)
}

// Dispatcher routes a rendered payload to the sender registered for the
// notification's channel.
type Dispatcher struct {
	senders map[notification.Channel]ChannelSender
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{senders: make(map[notification.Channel]ChannelSender)}
}

func (d *Dispatcher) Register(ch notification.Channel, s ChannelSender) *Dispatcher {
	d.senders[ch] = s
	return d
}

func (d *Dispatcher) Send(ctx context.Context, ch notification.Channel, to, subject, body string) (string, error) {
	s, ok := d.senders[ch]
	if !ok {
		return "", fmt.Errorf("no sender registered for channel %q", ch)
	}
	return s.Send(ctx, to, subject, body)
}

// StubSender stands in for channels without a real transport yet
// (push, sms). It always succeeds; the ChannelSender seam stays in
// place so a real transport can replace it without touching the
// engine.
type StubSender struct {
	channel notification.Channel
	log     *zap.Logger
}

func NewStubSender(ch notification.Channel, log *zap.Logger) *StubSender {
	return &StubSender{channel: ch, log: log.With(zap.String("component", "notifier.stub"), zap.String("channel", string(ch)))}
}

func (s *StubSender) Send(_ context.Context, to, subject, _ string) (string, error) {
	id := uuid.NewString()
	s.log.Info("stub delivery", zap.String("to", to), zap.String("subject", subject), zap.String("message_id", id))
	return id, nil
}
