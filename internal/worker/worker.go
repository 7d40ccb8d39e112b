package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/illegalcall/ai-credits/internal/config"
	"github.com/illegalcall/ai-credits/internal/metrics"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/profiles"
)

// ErrMalformedEvent marks messages that can never be processed.
var ErrMalformedEvent = errors.New("malformed payment event")

// PaymentStore credits a profile for a payment exactly once.
type PaymentStore interface {
	FulfillPayment(ctx context.Context, p *models.Payment) (bool, error)
}

// Worker consumes captured payments and tops up profile credits.
type Worker struct {
	cfg      *config.Config
	store    PaymentStore
	consumer sarama.ConsumerGroup
	logger   zerolog.Logger
}

func NewWorker(cfg *config.Config, store PaymentStore, consumer sarama.ConsumerGroup, logger zerolog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		store:    store,
		consumer: consumer,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Start joins the consumer group and blocks until ctx is cancelled or the
// group is closed.
func (w *Worker) Start(ctx context.Context) error {
	topics := []string{w.cfg.Kafka.Topic}
	w.logger.Info().Strs("topics", topics).Str("group", w.cfg.Kafka.Group).Msg("Starting worker")

	go func() {
		for err := range w.consumer.Errors() {
			w.logger.Error().Err(err).Msg("Kafka consumer error")
		}
	}()

	for {
		// Consume returns on every rebalance, so it runs in a loop.
		if err := w.consumer.Consume(ctx, topics, w); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				w.logger.Info().Msg("Consumer group closed")
				return nil
			}
			w.logger.Error().Err(err).Msg("Consume failed")
			if !w.wait(ctx, w.cfg.Kafka.RetryBackoff) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	w.logger.Info().Msg("Worker shutting down")
	return nil
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (w *Worker) Setup(session sarama.ConsumerGroupSession) error {
	w.logger.Info().Int32("generation", session.GenerationID()).Msg("Consumer group session started")
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (w *Worker) Cleanup(sarama.ConsumerGroupSession) error {
	w.logger.Info().Msg("Consumer group session ended")
	return nil
}

// ConsumeClaim processes messages until the claim is drained. Messages are
// marked whether or not fulfillment succeeded; failures are logged with the
// payment id for manual follow-up.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := w.processPayment(session.Context(), message); err != nil {
				w.logger.Error().
					Err(err).
					Int64("offset", message.Offset).
					Int32("partition", message.Partition).
					Msg("Failed to fulfill payment")
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (w *Worker) processPayment(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event models.PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.PaymentID == "" || event.UserID == "" || event.Amount <= 0 {
		return fmt.Errorf("%w: missing payment id, user id or amount", ErrMalformedEvent)
	}

	payment := &models.Payment{
		PaymentID: event.PaymentID,
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		Amount:    event.Amount,
		Currency:  event.Currency,
		Credits:   CreditsFor(event.Amount, w.cfg.Credits.PaisePerCredit),
	}
	log := w.logger.With().Str("payment_id", payment.PaymentID).Str("user_id", payment.UserID).Logger()

	attempts := w.cfg.Kafka.RetryMax
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var credited bool
		credited, err = w.store.FulfillPayment(ctx, payment)
		if err == nil {
			if credited {
				metrics.ObserveCreditsPurchased(payment.Credits)
				log.Info().Int("credits", payment.Credits).Int64("amount", payment.Amount).Msg("Payment fulfilled")
			} else {
				log.Info().Msg("Payment already fulfilled")
			}
			return nil
		}
		if errors.Is(err, profiles.ErrNotFound) {
			return fmt.Errorf("payment %s: %w", payment.PaymentID, err)
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("Payment fulfillment failed")
		if attempt < attempts && !w.wait(ctx, w.cfg.Kafka.RetryBackoff) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("payment %s failed after %d attempts: %w", payment.PaymentID, attempts, err)
}

// wait sleeps for d and reports false if ctx ended first.
func (w *Worker) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// CreditsFor converts an amount in the smallest currency unit into whole credits.
func CreditsFor(amount, perCredit int64) int {
	if perCredit <= 0 {
		return 0
	}
	return int(amount / perCredit)
}
