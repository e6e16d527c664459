package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/domain"
	"github.com/cuongbtq/transaction-queue/internal/api/dto"
	"github.com/cuongbtq/transaction-queue/internal/api/handler"
	"github.com/cuongbtq/transaction-queue/internal/api/model"
	"github.com/cuongbtq/transaction-queue/internal/api/storage"
	"github.com/cuongbtq/transaction-queue/internal/api/submission"
	"github.com/cuongbtq/transaction-queue/internal/queue"
	"github.com/cuongbtq/transaction-queue/internal/ratelimit"
	"github.com/cuongbtq/transaction-queue/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txID = "0b3e7a4e-52ab-4d3c-9c57-3f1d3f6b9a10"

type fakeSubmitter struct {
	got *submission.Request
	out *submission.Outcome
	err error
}

func (f *fakeSubmitter) Submit(_ context.Context, req *submission.Request) (*submission.Outcome, error) {
	f.got = req
	return f.out, f.err
}

type fakeTransactions struct {
	tx       *model.Transaction
	list     []model.Transaction
	err      error
	filter   storage.TransactionFilter
	getCalls int
}

func (f *fakeTransactions) GetTransaction(_ context.Context, id string) (*model.Transaction, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.tx == nil || f.tx.ID != id {
		return nil, domain.ErrTransactionNotFound
	}
	return f.tx, nil
}

func (f *fakeTransactions) ListTransactions(_ context.Context, filter storage.TransactionFilter) ([]model.Transaction, error) {
	f.filter = filter
	return f.list, f.err
}

type fakeQueue struct {
	position int64
	err      error
	stats    *queue.Stats
}

func (f *fakeQueue) Position(context.Context, string, string) (int64, error) {
	return f.position, f.err
}

func (f *fakeQueue) Stats(_ context.Context, name string) (*queue.Stats, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := *f.stats
	s.Name = name
	return &s, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fixture struct {
	engine       *gin.Engine
	submitter    *fakeSubmitter
	transactions *fakeTransactions
	queue        *fakeQueue
	checks       map[string]handler.HealthChecker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		submitter:    &fakeSubmitter{},
		transactions: &fakeTransactions{},
		queue:        &fakeQueue{stats: &queue.Stats{}},
		checks: map[string]handler.HealthChecker{
			"postgres": checkFunc(func(context.Context) error { return nil }),
			"redis":    checkFunc(func(context.Context) error { return nil }),
		},
	}
	f.engine = SetupRouter(&handler.Dependencies{
		Logger:       logger.NewDiscard(),
		ServiceName:  "transaction-queue-api",
		Submitter:    f.submitter,
		Transactions: f.transactions,
		Queue:        f.queue,
		QueueName:    "transactions",
		MaxBodyBytes: 1024,
		Checks:       f.checks,
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorBody {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func allowed(remaining int) *ratelimit.Decision {
	return &ratelimit.Decision{
		Allowed:   true,
		Limit:     100,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Minute),
	}
}

func TestSubmitTransaction_Success(t *testing.T) {
	f := newFixture(t)
	f.submitter.out = &submission.Outcome{
		State:            submission.StateResponding,
		Transaction:      &model.Transaction{ID: txID, Status: domain.TransactionStatusPending},
		QueuePosition:    4,
		EstimatedSeconds: 120,
		RateLimit:        allowed(42),
	}

	w := f.do(http.MethodPost, "/v1/transactions", `{"account_id":"acc-1","payload":{"amount":10},"priority":5}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", w.Header().Get(handler.HeaderRateLimitLimit))
	assert.Equal(t, "42", w.Header().Get(handler.HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(handler.HeaderRateLimitReset))
	assert.Empty(t, w.Header().Get(handler.HeaderRetryAfter))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	var resp dto.SubmitTransactionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, dto.SubmitTransactionResponse{
		ID:                             txID,
		QueuePosition:                  4,
		EstimatedProcessingTimeSeconds: 120,
		Status:                         "pending",
	}, resp)

	require.NotNil(t, f.submitter.got)
	assert.Equal(t, "acc-1", f.submitter.got.AccountID)
	assert.JSONEq(t, `{"amount":10}`, string(f.submitter.got.Payload))
	require.NotNil(t, f.submitter.got.Priority)
	assert.Equal(t, 5, *f.submitter.got.Priority)
}

func TestSubmitTransaction_LegacyTransactionDataField(t *testing.T) {
	f := newFixture(t)
	f.submitter.out = &submission.Outcome{
		Transaction: &model.Transaction{ID: txID, Status: domain.TransactionStatusPending},
		RateLimit:   allowed(1),
	}

	w := f.do(http.MethodPost, "/v1/transactions/submit", `{"account_id":"acc-1","transaction_data":{"x":1}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"x":1}`, string(f.submitter.got.Payload))
	assert.Nil(t, f.submitter.got.Priority)
}

func TestSubmitTransaction_Routes(t *testing.T) {
	for _, path := range []string{"/v1/transactions/submit", "/v1/transactions"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t)
			f.submitter.out = &submission.Outcome{
				Transaction:   &model.Transaction{ID: txID, Status: domain.TransactionStatusPending},
				QueuePosition: 1,
				RateLimit:     allowed(99),
			}

			w := f.do(http.MethodPost, path, `{"account_id":"acc-1","payload":{"amount":10}}`)

			require.Equal(t, http.StatusOK, w.Code)
			require.NotNil(t, f.submitter.got)
			assert.Equal(t, "acc-1", f.submitter.got.AccountID)
		})
	}
}

func TestSubmitTransaction_ErrorMapping(t *testing.T) {
	rejected := &ratelimit.Decision{Allowed: false, Limit: 100, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)}

	tests := []struct {
		name        string
		out         *submission.Outcome
		err         error
		wantStatus  int
		wantCode    string
		wantField   string
		wantHeaders bool
		wantRetry   bool
		mustNotLeak string
	}{
		{
			name:       "validation",
			out:        &submission.Outcome{State: submission.StateValidating},
			err:        &submission.Error{Kind: submission.KindValidation, Field: "priority", Message: "priority must be between -1000 and 1000"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
			wantField:  "priority",
		},
		{
			name:        "rate limited",
			out:         &submission.Outcome{State: submission.StateRateLimiting, RateLimit: rejected},
			err:         &submission.Error{Kind: submission.KindRateLimited, Message: "rate limit exceeded"},
			wantStatus:  http.StatusTooManyRequests,
			wantCode:    "RATE_LIMITED",
			wantHeaders: true,
			wantRetry:   true,
		},
		{
			name:        "store unavailable after admission",
			out:         &submission.Outcome{State: submission.StatePersisting, RateLimit: allowed(3)},
			err:         &submission.Error{Kind: submission.KindStoreUnavailable, Message: "failed to persist", Err: errors.New("dial tcp 10.0.0.5:5432: refused")},
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "STORE_UNAVAILABLE",
			wantHeaders: true,
			mustNotLeak: "10.0.0.5",
		},
		{
			name:        "conflict",
			out:         &submission.Outcome{State: submission.StatePersisting, RateLimit: allowed(3)},
			err:         &submission.Error{Kind: submission.KindPersistenceConflict, Message: "exists"},
			wantStatus:  http.StatusConflict,
			wantCode:    "PERSISTENCE_CONFLICT",
			wantHeaders: true,
		},
		{
			name:        "uncategorized",
			out:         &submission.Outcome{},
			err:         errors.New("redis: connection pool timeout"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL",
			mustNotLeak: "redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.submitter.out, f.submitter.err = tt.out, tt.err

			w := f.do(http.MethodPost, "/v1/transactions", `{"account_id":"acc-1","payload":{"a":1}}`)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantField, body.Field)
			assert.Equal(t, tt.wantHeaders, w.Header().Get(handler.HeaderRateLimitLimit) != "")
			assert.Equal(t, tt.wantRetry, w.Header().Get(handler.HeaderRetryAfter) != "")
			if tt.wantRetry {
				assert.Equal(t, "0", w.Header().Get(handler.HeaderRateLimitRemaining))
			}
			if tt.mustNotLeak != "" {
				assert.NotContains(t, w.Body.String(), tt.mustNotLeak)
			}
		})
	}
}

func TestSubmitTransaction_BadBodies(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodPost, "/v1/transactions", `{"account_id":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, w).Code)
		assert.Nil(t, f.submitter.got)
	})

	t.Run("body over transport cap", func(t *testing.T) {
		f := newFixture(t)
		big := fmt.Sprintf(`{"account_id":"a","payload":"%s"}`, strings.Repeat("x", 2048))
		w := f.do(http.MethodPost, "/v1/transactions", big)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "payload", decodeError(t, w).Field)
		assert.Nil(t, f.submitter.got)
	})
}

func TestGetTransaction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	priority := 7
	record := &model.Transaction{
		ID:              txID,
		AccountID:       "acc-1",
		TransactionData: types.JSONText(`{"amount":10}`),
		Status:          domain.TransactionStatusPending,
		Priority:        &priority,
		MaxRetries:      3,
		CreatedAt:       now,
		UpdatedAt:       now,
		ScheduledAt:     &now,
	}

	t.Run("pending with position", func(t *testing.T) {
		f := newFixture(t)
		f.transactions.tx = record
		f.queue.position = 3

		w := f.do(http.MethodGet, "/v1/transactions/"+txID, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.TransactionDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, txID, resp.ID)
		require.NotNil(t, resp.QueuePosition)
		assert.Equal(t, int64(3), *resp.QueuePosition)
		assert.JSONEq(t, `{"amount":10}`, string(resp.Payload))
		assert.Equal(t, "2026-03-01T12:00:00Z", resp.ScheduledAt)
	})

	t.Run("pending but not queued", func(t *testing.T) {
		f := newFixture(t)
		f.transactions.tx = record
		f.queue.err = queue.ErrNotQueued

		w := f.do(http.MethodGet, "/v1/transactions/"+txID, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "queue_position")
	})

	t.Run("invalid id", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodGet, "/v1/transactions/not-a-uuid", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, f.transactions.getCalls)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodGet, "/v1/transactions/"+txID, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.transactions.err = errors.New("pq: too many connections")
		w := f.do(http.MethodGet, "/v1/transactions/"+txID, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "pq:")
	})
}

func TestListTransactions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("paginates with cursor", func(t *testing.T) {
		f := newFixture(t)
		f.transactions.list = []model.Transaction{
			{ID: "tx-3", AccountID: "acc-1", Status: "pending", CreatedAt: now, UpdatedAt: now},
			{ID: "tx-2", AccountID: "acc-1", Status: "pending", CreatedAt: now.Add(-time.Second), UpdatedAt: now},
			{ID: "tx-1", AccountID: "acc-1", Status: "pending", CreatedAt: now.Add(-2 * time.Second), UpdatedAt: now},
		}

		w := f.do(http.MethodGet, "/v1/transactions?account_id=acc-1&status=pending&page_size=2", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListTransactionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Transactions, 2)
		require.NotEmpty(t, resp.NextCursor)

		cursor, err := handler.DecodeTransactionCursor(resp.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, "tx-2", cursor.ID)
		assert.True(t, cursor.CreatedAt.Equal(now.Add(-time.Second)))

		assert.Equal(t, "acc-1", f.transactions.filter.AccountID)
		assert.Equal(t, 2, f.transactions.filter.PageSize)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodGet, "/v1/transactions?status=archived", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad cursor", func(t *testing.T) {
		f := newFixture(t)
		w := f.do(http.MethodGet, "/v1/transactions?cursor=bm9waXBl", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	f.queue.stats = &queue.Stats{FIFOLength: 2, PriorityLength: 5}

	w := f.do(http.MethodGet, "/v1/queues/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"transactions","fifo_length":2,"priority_length":5}`, w.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.checks["redis"] = checkFunc(func(context.Context) error { return errors.New("dial tcp: refused") })
	w = f.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
	assert.NotContains(t, w.Body.String(), "refused")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/transactions", bytes.NewReader(nil))
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
}
