package worker

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"bankchat/internal/platform/rabbitmq"
	"bankchat/internal/repository"
	"bankchat/internal/vectorstore"
)

// ReconcileWorker consumes orphan-cleanup jobs and finishes interrupted
// deletions: it drops any embeddings a job names and removes chunk rows
// whose document no longer completes the pipeline. Jobs that fail are
// requeued once by the broker.
type ReconcileWorker struct {
	conn      *amqp.Connection
	queueName string
	store     vectorstore.Store
	chunks    *repository.ChunkRepository
}

func NewReconcileWorker(conn *amqp.Connection, queueName string, store vectorstore.Store, chunks *repository.ChunkRepository) *ReconcileWorker {
	return &ReconcileWorker{
		conn:      conn,
		queueName: queueName,
		store:     store,
		chunks:    chunks,
	}
}

// Start opens a channel and consumes until the context ends.
func (w *ReconcileWorker) Start(ctx context.Context) error {
	ch, err := w.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	logrus.WithField("queue", w.queueName).Info("reconcile worker started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("reconcile worker stopping")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				logrus.Warn("reconcile delivery channel closed")
				return nil
			}
			w.handle(ctx, delivery)
		}
	}
}

func (w *ReconcileWorker) handle(ctx context.Context, delivery amqp.Delivery) {
	var job rabbitmq.ReconcileJob
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		logrus.WithError(err).Error("malformed reconcile job, discarding")
		_ = delivery.Nack(false, false)
		return
	}

	if err := w.reconcile(ctx, job); err != nil {
		logrus.WithError(err).WithField("document_id", job.DocumentID).Error("reconcile failed")
		_ = delivery.Nack(false, !delivery.Redelivered)
		return
	}

	logrus.WithFields(logrus.Fields{
		"document_id": job.DocumentID,
		"reason":      job.Reason,
	}).Info("reconcile job completed")
	_ = delivery.Ack(false)
}

func (w *ReconcileWorker) reconcile(ctx context.Context, job rabbitmq.ReconcileJob) error {
	vectorIDs := job.VectorIDs
	if len(vectorIDs) == 0 {
		rows, err := w.chunks.ListByDocumentID(job.DocumentID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.VectorID != "" {
				vectorIDs = append(vectorIDs, row.VectorID)
			}
		}
	}

	if len(vectorIDs) > 0 {
		if err := w.store.Delete(ctx, vectorIDs); err != nil {
			return err
		}
	}
	return w.chunks.DeleteByDocumentID(job.DocumentID)
}
