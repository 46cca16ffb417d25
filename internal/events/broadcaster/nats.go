package broadcaster

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"shadowgate/internal/events"
)

// subjectPrefix namespaces the per-user NATS subjects.
const subjectPrefix = "ops.events."

// NATS delivers events over a NATS subject per user.
type NATS struct {
	conn *nats.Conn
}

// NewNATS constructs a NATS-backed broadcaster.
func NewNATS(conn *nats.Conn) *NATS {
	return &NATS{conn: conn}
}

func (b *NATS) Broadcast(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// nats.Conn.Publish is buffered and non-blocking; flush with the bounded
	// context so a dead server cannot stall the attempt past its deadline.
	if err := b.conn.Publish(subjectPrefix+event.UserID, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}

// Subject returns the NATS subject for a user.
func Subject(userID string) string {
	return subjectPrefix + userID
}
