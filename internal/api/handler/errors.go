package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/transaction-queue/internal/api/dto"
	"github.com/cuongbtq/transaction-queue/internal/api/submission"
	"github.com/cuongbtq/transaction-queue/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// writeRateLimitHeaders attaches limiter metadata; a nil decision means the
// limiter was never evaluated
func writeRateLimitHeaders(c *gin.Context, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		c.Header(HeaderRetryAfter, strconv.FormatInt(d.RetryAfter(time.Now()), 10))
	}
}

// respondSubmissionError maps the error taxonomy to a status code. Internal
// causes are never written to the body.
func respondSubmissionError(c *gin.Context, err error) {
	var se *submission.Error
	if !errors.As(err, &se) {
		respondError(c, http.StatusInternalServerError, string(submission.KindInternal), "internal server error", "")
		return
	}

	switch se.Kind {
	case submission.KindValidation:
		respondError(c, http.StatusBadRequest, string(se.Kind), se.Message, se.Field)
	case submission.KindRateLimited:
		respondError(c, http.StatusTooManyRequests, string(se.Kind), "rate limit exceeded", "")
	case submission.KindPersistenceConflict:
		respondError(c, http.StatusConflict, string(se.Kind), "transaction already exists", "")
	default:
		respondError(c, http.StatusInternalServerError, string(se.Kind), "internal server error", "")
	}
}

func respondError(c *gin.Context, status int, code, message, field string) {
	c.JSON(status, dto.ErrorResponse{
		Error: dto.ErrorBody{Code: code, Message: message, Field: field},
	})
}
