package models

import "time"

// PaymentEvent is published to Kafka for every captured Razorpay payment.
type PaymentEvent struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"` // smallest currency unit
	Currency  string `json:"currency"`
}

// Payment is a fulfilled payment; payment_id is the primary key so a payment
// is credited at most once.
type Payment struct {
	PaymentID string    `json:"payment_id" db:"payment_id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Currency  string    `json:"currency" db:"currency"`
	Credits   int       `json:"credits" db:"credits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
