package domain

import "time"

// Status values the reconciler reads
const (
	TransactionStatusPending = "pending"
)

// Transaction is the slice of a durable record needed to rebuild its queue entry
type Transaction struct {
	ID              string
	AccountID       string
	TransactionData []byte // JSON
	Status          string
	Priority        *int
	CreatedAt       time.Time
}

// StaleRef identifies a pending record by its sweep order key
type StaleRef struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// RepairTask is one transaction to check and, if needed, re-enqueue.
// Ack is nil for tasks produced by the sweep.
type RepairTask struct {
	TransactionID string
	QueueName     string // empty means the reconciler's configured queue
	Source        string
	Ack           Acknowledger
}

// Acknowledger settles the broker message a task came from
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

const (
	SourceHint  = "hint"
	SourceSweep = "sweep"
)
