package model

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Transaction struct {
	ID              string         `db:"id"`
	AccountID       string         `db:"account_id"`
	TransactionData types.JSONText `db:"transaction_data"`
	Status          string         `db:"status"`
	Priority        *int           `db:"priority"`
	RetryCount      int            `db:"retry_count"`
	MaxRetries      int            `db:"max_retries"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	ScheduledAt     *time.Time     `db:"scheduled_at"`
	ProcessedAt     *time.Time     `db:"processed_at"`
	ErrorMessage    *string        `db:"error_message"`
}

type RateLimit struct {
	ID            string    `db:"id"`
	AccountID     string    `db:"account_id"`
	LimitType     string    `db:"limit_type"`
	MaxRequests   int       `db:"max_requests"`
	WindowSeconds int       `db:"window_seconds"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}
