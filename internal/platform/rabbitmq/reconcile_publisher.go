package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ReconcileJob describes embedding-store entries whose chunk metadata rows
// could not be removed (or the reverse). The reconcile worker retries the
// cleanup until both sides agree.
type ReconcileJob struct {
	DocumentID string   `json:"document_id"`
	VectorIDs  []string `json:"vector_ids"`
	Reason     string   `json:"reason"`
}

type ReconcilePublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewReconcilePublisher(conn *amqp.Connection, queueName string) *ReconcilePublisher {
	return &ReconcilePublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *ReconcilePublisher) Publish(ctx context.Context, job ReconcileJob) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare reconcile queue failed: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal reconcile job failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish reconcile job failed: %w", err)
	}
	return nil
}
