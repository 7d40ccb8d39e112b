package api

import (
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"

	"github.com/illegalcall/ai-credits/internal/metrics"
	"github.com/illegalcall/ai-credits/internal/models"
	"github.com/illegalcall/ai-credits/internal/pkg/razorpay"
)

const (
	signatureHeader = "X-Razorpay-Signature"
	capturedEvent   = "payment.captured"
	dedupeKeyPrefix = "razorpay:payment:"
)

func (s *Server) handleCreateOrder(c *fiber.Ctx) error {
	identity := identityFrom(c)

	var req models.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body.",
		})
	}
	if req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Amount is required.",
		})
	}
	if req.Currency == "" {
		req.Currency = s.cfg.Razorpay.Currency
	}
	if req.Notes == nil {
		req.Notes = map[string]interface{}{}
	}
	// The webhook credits whoever is named here, so the client never chooses it.
	req.Notes["user_id"] = identity.ID

	order, err := s.orders.CreateOrder(c.UserContext(), razorpay.OrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Notes:    req.Notes,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", identity.ID).Int64("amount", req.Amount).Msg("Failed to create order")
		message := err.Error()
		if !errors.Is(err, razorpay.ErrNotConfigured) && s.cfg.IsProduction() {
			message = "An internal server error occurred while creating the payment order."
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": message,
		})
	}

	response := fiber.Map{}
	for k, v := range order {
		response[k] = v
	}
	response["key_id"] = s.orders.KeyID()

	return c.JSON(response)
}

func (s *Server) handleWebhook(c *fiber.Ctx) error {
	ctx := c.UserContext()
	body := c.Body()

	if !razorpay.VerifySignature(body, c.Get(signatureHeader), s.cfg.Razorpay.WebhookSecret) {
		metrics.ObserveWebhook("unknown", "invalid_signature")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signature.",
		})
	}

	event := gjson.GetBytes(body, "event").String()
	if event != capturedEvent {
		metrics.ObserveWebhook(event, "ignored")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	entity := gjson.GetBytes(body, "payload.payment.entity")
	payment := models.PaymentEvent{
		PaymentID: entity.Get("id").String(),
		OrderID:   entity.Get("order_id").String(),
		UserID:    entity.Get("notes.user_id").String(),
		Amount:    entity.Get("amount").Int(),
		Currency:  entity.Get("currency").String(),
	}
	if payment.PaymentID == "" || payment.UserID == "" || payment.Amount <= 0 {
		metrics.ObserveWebhook(event, "malformed")
		s.logger.Warn().Str("payment_id", payment.PaymentID).Msg("Captured payment without user or amount")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Malformed payment event.",
		})
	}

	key := dedupeKeyPrefix + payment.PaymentID
	first, err := s.redis.SetNX(ctx, key, payment.UserID, s.cfg.Redis.DedupeTTL).Result()
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.PaymentID).Msg("Failed to de-duplicate webhook")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process webhook.",
		})
	}
	if !first {
		metrics.ObserveWebhook(event, "duplicate")
		return c.JSON(fiber.Map{"status": "duplicate"})
	}

	payload, err := json.Marshal(payment)
	if err != nil {
		s.redis.Del(ctx, key)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process webhook.",
		})
	}

	msg := &sarama.ProducerMessage{
		Topic: s.cfg.Kafka.Topic,
		Key:   sarama.StringEncoder(payment.UserID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		// Release the key so Razorpay's retry is not dropped as a duplicate.
		s.redis.Del(ctx, key)
		s.logger.Error().Err(err).Str("payment_id", payment.PaymentID).Msg("Failed to queue payment")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue payment.",
		})
	}

	metrics.ObserveWebhook(event, "queued")
	s.logger.Info().
		Str("payment_id", payment.PaymentID).
		Str("user_id", payment.UserID).
		Int64("amount", payment.Amount).
		Msg("Payment queued for fulfillment")

	return c.JSON(fiber.Map{"status": "ok"})
}
