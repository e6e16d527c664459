package dto

import "encoding/json"

// SubmitTransactionRequest is decoded without binding tags: every field rule
// is enforced by the orchestrator so that each failure names its field.
type SubmitTransactionRequest struct {
	AccountID       string          `json:"account_id"`
	Payload         json.RawMessage `json:"payload"`
	TransactionData json.RawMessage `json:"transaction_data"`
	Priority        *int            `json:"priority"`
}

// Body returns payload, falling back to the legacy transaction_data field
func (r *SubmitTransactionRequest) Body() json.RawMessage {
	if len(r.Payload) > 0 {
		return r.Payload
	}
	return r.TransactionData
}

type SubmitTransactionResponse struct {
	ID                             string `json:"id"`
	QueuePosition                  int64  `json:"queue_position"`
	EstimatedProcessingTimeSeconds int64  `json:"estimated_processing_time_seconds"`
	Status                         string `json:"status"`
}

type ListTransactionsRequest struct {
	AccountID string `form:"account_id"`
	Status    string `form:"status"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListTransactionsResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	NextCursor   string           `json:"next_cursor,omitempty"`
}

type TransactionDTO struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        string          `json:"status"`
	Priority      *int            `json:"priority,omitempty"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	QueuePosition *int64          `json:"queue_position,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	ScheduledAt   string          `json:"scheduled_at,omitempty"`
	ProcessedAt   string          `json:"processed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
