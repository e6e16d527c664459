package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/domain"
	"github.com/cuongbtq/transaction-queue/internal/api/dto"
	"github.com/cuongbtq/transaction-queue/internal/api/model"
	"github.com/cuongbtq/transaction-queue/internal/api/storage"
	"github.com/cuongbtq/transaction-queue/internal/api/submission"
	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubmitTransaction handles POST /v1/transactions/submit and POST /v1/transactions
// Admits, persists and enqueues one transaction
func (h *TransactionHandler) SubmitTransaction(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}

	var req dto.SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Request body too large", slog.Int64("limit", tooLarge.Limit))
			respondError(c, http.StatusRequestEntityTooLarge, string(submission.KindValidation), "request body too large", "payload")
			return
		}
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		respondError(c, http.StatusBadRequest, string(submission.KindValidation), "invalid request body", "")
		return
	}

	out, err := h.submitter.Submit(c.Request.Context(), &submission.Request{
		AccountID: req.AccountID,
		Payload:   req.Body(),
		Priority:  req.Priority,
	})
	if out != nil {
		writeRateLimitHeaders(c, out.RateLimit)
	}
	if err != nil {
		respondSubmissionError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SubmitTransactionResponse{
		ID:                             out.Transaction.ID,
		QueuePosition:                  out.QueuePosition,
		EstimatedProcessingTimeSeconds: out.EstimatedSeconds,
		Status:                         out.Transaction.Status,
	})
}

// GetTransaction handles GET /v1/transactions/:id
// Returns the durable record plus its advisory queue position
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id := c.Param("id")

	if _, err := uuid.Parse(id); err != nil {
		respondError(c, http.StatusBadRequest, string(submission.KindValidation), "id must be a valid UUID", "id")
		return
	}

	tx, err := h.transactions.GetTransaction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "transaction not found", "")
			return
		}
		h.logger.Error("Failed to get transaction",
			slog.String("transaction_id", id),
			slog.String("error", err.Error()),
		)
		respondError(c, http.StatusInternalServerError, string(submission.KindStoreUnavailable), "internal server error", "")
		return
	}

	resp := toTransactionDTO(tx)
	if tx.Status == domain.TransactionStatusPending {
		position, err := h.queue.Position(c.Request.Context(), h.queueName, tx.ID)
		switch {
		case err == nil:
			resp.QueuePosition = &position
		case !errors.Is(err, queue.ErrNotQueued):
			h.logger.Warn("Failed to read queue position",
				slog.String("transaction_id", tx.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListTransactions handles GET /v1/transactions
// Lists transactions newest first with cursor pagination
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	var req dto.ListTransactionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, http.StatusBadRequest, string(submission.KindValidation), "invalid query parameters", "")
		return
	}

	if req.Status != "" && !domain.ValidStatus(req.Status) {
		respondError(c, http.StatusBadRequest, string(submission.KindValidation), "unknown status", "status")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeTransactionCursor(req.Cursor)
	if err != nil {
		respondError(c, http.StatusBadRequest, string(submission.KindValidation), "invalid cursor", "cursor")
		return
	}

	txs, err := h.transactions.ListTransactions(c.Request.Context(), storage.TransactionFilter{
		AccountID: req.AccountID,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list transactions", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, string(submission.KindStoreUnavailable), "internal server error", "")
		return
	}

	hasMore := len(txs) > req.PageSize
	if hasMore {
		txs = txs[:req.PageSize]
	}

	items := make([]dto.TransactionDTO, len(txs))
	for i := range txs {
		items[i] = toTransactionDTO(&txs[i])
	}

	var nextCursor string
	if hasMore {
		last := txs[len(txs)-1]
		nextCursor = EncodeTransactionCursor(&storage.TransactionCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListTransactionsResponse{
		Transactions: items,
		NextCursor:   nextCursor,
	})
}

// QueueStats handles GET /v1/queues/:name
func (h *TransactionHandler) QueueStats(c *gin.Context) {
	name := c.Param("name")

	stats, err := h.queue.Stats(c.Request.Context(), name)
	if err != nil {
		h.logger.Error("Failed to read queue stats",
			slog.String("queue", name),
			slog.String("error", err.Error()),
		)
		respondError(c, http.StatusInternalServerError, string(submission.KindStoreUnavailable), "internal server error", "")
		return
	}

	c.JSON(http.StatusOK, stats)
}

func toTransactionDTO(tx *model.Transaction) dto.TransactionDTO {
	out := dto.TransactionDTO{
		ID:         tx.ID,
		AccountID:  tx.AccountID,
		Status:     tx.Status,
		Priority:   tx.Priority,
		RetryCount: tx.RetryCount,
		MaxRetries: tx.MaxRetries,
		CreatedAt:  tx.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  tx.UpdatedAt.Format(time.RFC3339),
	}
	if len(tx.TransactionData) > 0 {
		out.Payload = []byte(tx.TransactionData)
	}
	if tx.ScheduledAt != nil {
		out.ScheduledAt = tx.ScheduledAt.Format(time.RFC3339)
	}
	if tx.ProcessedAt != nil {
		out.ProcessedAt = tx.ProcessedAt.Format(time.RFC3339)
	}
	if tx.ErrorMessage != nil {
		out.ErrorMessage = *tx.ErrorMessage
	}
	return out
}
