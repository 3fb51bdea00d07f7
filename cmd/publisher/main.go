// Dev tool: publishes customer change events onto the stream so the sync
// worker has something to chew on locally.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type envelope struct {
	EventType     string    `json:"eventType"`
	EntityID      string    `json:"entityId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	EntityData    any       `json:"entityData,omitempty"`
}

func main() {
	var (
		url     = flag.String("url", "nats://localhost:4222", "NATS server URL")
		event   = flag.String("event", "customer.created", "event subject to publish")
		id      = flag.String("id", "", "customer id (random when empty)")
		email   = flag.String("email", "dev@example.com", "customer email")
		status  = flag.String("status", "active", "customer status")
		count   = flag.Int("count", 1, "number of events to publish")
		useSnek = flag.Bool("snake", false, "emit legacy snake_case field names")
	)
	flag.Parse()

	nc, err := nats.Connect(*url)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer nc.Drain()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatalf("jetstream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for i := 0; i < *count; i++ {
		entityID := *id
		if entityID == "" {
			entityID = uuid.New().String()
		}

		var body []byte
		if *useSnek {
			body, err = json.Marshal(map[string]any{
				"event_type": *event,
				"entity_id":  entityID,
				"entity_data": map[string]any{
					"customer_id": entityID,
					"email":       *email,
					"status":      *status,
					"first_name":  "Dev",
					"last_name":   fmt.Sprintf("User%d", i),
				},
			})
		} else {
			body, err = json.Marshal(envelope{
				EventType:  *event,
				EntityID:   entityID,
				OccurredAt: time.Now().UTC(),
				EntityData: map[string]any{
					"customerId": entityID,
					"email":      *email,
					"status":     *status,
					"firstName":  "Dev",
					"lastName":   fmt.Sprintf("User%d", i),
				},
			})
		}
		if err != nil {
			log.Fatalf("marshal: %v", err)
		}

		ack, err := js.Publish(ctx, *event, body)
		if err != nil {
			log.Fatalf("publish: %v", err)
		}
		fmt.Printf("published %s %s (stream %s, seq %d)\n", *event, entityID, ack.Stream, ack.Sequence)
	}
}
