// Package notify delivers recorded bounty activity to the outside world. The outbox
// worker hands every pending outbox row to a Notifier; a nil error marks it delivered.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"bounty-board/models"
)

// Notifier delivers one outbox message. Implementations must be safe to call again with
// the same message: delivery is at least once.
type Notifier interface {
	Notify(ctx context.Context, msg models.OutboxMessage) error
}

// DecodeActivity unpacks the activity carried in an outbox payload.
func DecodeActivity(msg models.OutboxMessage) (*models.Activity, error) {
	var a models.Activity
	if err := json.Unmarshal(msg.Payload, &a); err != nil {
		return nil, fmt.Errorf("decode outbox %s: %w", msg.ID, err)
	}
	return &a, nil
}

// Fanout delivers to every notifier and joins their errors. A message counts as
// delivered only when every sink accepted it.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg models.OutboxMessage) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes every message to the standard logger. Used when no sink is configured.
type Log struct{}

func (Log) Notify(_ context.Context, msg models.OutboxMessage) error {
	a, err := DecodeActivity(msg)
	if err != nil {
		return err
	}
	log.Printf("[NOTIFY] %s bounty=%s actor=%s", a.Type, a.BountyID, a.ActorID)
	return nil
}
