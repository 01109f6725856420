// Package notify is the outbound-delivery seam. Delivery is best effort:
// the routing engine commits its state transition first and only then asks
// the notifier to reach people, logging failures instead of rolling back.
package notify

import (
	"context"
	"log"
)

type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	SignLink string // present only on recipient-activation messages
}

type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier records messages to the process log. It stands in for the
// real mail pipeline in development and tests.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, m Message) error {
	if m.SignLink != "" {
		log.Printf("notify: to=%s subject=%q signing link issued", m.To, m.Subject)
		return nil
	}
	log.Printf("notify: to=%s subject=%q", m.To, m.Subject)
	return nil
}

var _ Notifier = LogNotifier{}
