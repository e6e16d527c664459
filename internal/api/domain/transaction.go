package domain

import (
	"errors"
)

const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusRetry      = "retry"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
)

// ValidStatus reports whether s is one of the known transaction statuses
func ValidStatus(s string) bool {
	switch s {
	case TransactionStatusPending,
		TransactionStatusProcessing,
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusRetry:
		return true
	}
	return false
}
