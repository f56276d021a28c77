package worker

import (
	"context"
	"errors"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
)

// LocalNotifier publishes change events and also hands them to an
// in-process handler. A worker running without a broker uses it so its own
// writes still reach the summaries and reports it keeps.
type LocalNotifier struct {
	publisher amqp.Publisher
	handler   amqp.Handler
}

func NewLocalNotifier(publisher amqp.Publisher, handler amqp.Handler) *LocalNotifier {
	return &LocalNotifier{publisher: publisher, handler: handler}
}

// PublishChange delivers ev locally even when publishing fails. Both errors
// are returned joined.
func (n *LocalNotifier) PublishChange(ctx context.Context, ev core.ChangeEvent) error {
	err := n.publisher.PublishChange(ctx, ev)
	if herr := n.handler(ctx, ev); herr != nil {
		return errors.Join(err, herr)
	}
	return err
}
