// Package queue keeps the ephemeral processing order of admitted items in
// Redis: a strict FIFO list for unprioritized items and a sorted set ordered
// by priority then arrival for prioritized ones.
//
// Entries are keyed by item id. The serialized projection of an item lives in
// a companion hash and may expire independently of the durable record.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStoreUnavailable wraps every failure talking to the shared store.
	ErrStoreUnavailable = errors.New("queue store unavailable")
	// ErrNotQueued is returned by position lookups for an id on neither path.
	ErrNotQueued = errors.New("item not queued")
)

// tieSpan bounds the arrival sequence folded into a score. The fractional
// part (seq mod tieSpan + 1)/(tieSpan + 1) stays strictly inside (0, 1) and
// remains distinguishable in a float64 for ceilings up to ~1e6.
//
// The sequence wraps every tieSpan allocations per queue. An item enqueued
// just after a wrap sorts ahead of equal-priority items enqueued just before
// it, so FIFO order within a band holds only while fewer than tieSpan items
// of that band are waiting across the wrap point.
const tieSpan = 1_000_000_000

// fifoPushScript appends an id to the FIFO list unless it is already there,
// storing its projection in the same round trip. It replies {pushed, position}.
//
// KEYS[1] fifo list  KEYS[2] projection hash
// ARGV[1] item id    ARGV[2] projection  ARGV[3] projection ttl (ms, 0 = none)
var fifoPushScript = redis.NewScript(`
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[3])
end
local pos = redis.call('LPOS', KEYS[1], ARGV[1])
if pos then
  return {0, pos + 1}
end
return {1, redis.call('RPUSH', KEYS[1], ARGV[1])}
`)

// Item is the projection stored alongside a queue entry.
type Item struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"account_id"`
	Priority   *int            `json:"priority,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Entry is one element of an ordered snapshot of the priority path.
type Entry struct {
	ID    string
	Score float64
	Rank  int64
}

// Stats reports the depth of both paths of a queue.
type Stats struct {
	Name           string `json:"name"`
	FIFOLength     int64  `json:"fifo_length"`
	PriorityLength int64  `json:"priority_length"`
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithKeyPrefix overrides the "queue:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(m *Manager) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithPriorityCeiling sets the constant priorities are subtracted from.
// It must be at least the largest admissible priority.
func WithPriorityCeiling(ceiling int) Option {
	return func(m *Manager) { m.ceiling = ceiling }
}

// WithProjectionTTL expires the projection hash after ttl without writes.
// Zero keeps projections until dequeued.
func WithProjectionTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.projectionTTL = ttl }
}

// WithClock overrides the time source used for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager inserts, ranks and pops queue entries. It holds no local state and
// is safe for concurrent use by any number of handlers and processes.
type Manager struct {
	client        redis.Cmdable
	prefix        string
	ceiling       int
	projectionTTL time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a Manager. The caller owns the Redis client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		prefix:  defaultKeyPrefix,
		ceiling: 1000,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Score returns the sort key for a priority and arrival sequence number.
// Lower scores dequeue first.
func (m *Manager) Score(priority int, seq int64) float64 {
	tie := float64((seq-1)%tieSpan+1) / float64(tieSpan+1)
	return float64(m.ceiling-priority) + tie
}

// Enqueue appends item to the FIFO path and returns the list length after
// the append, which is the item's 1-based position in that list. An id that
// is already on the list keeps its place and its current position is returned.
func (m *Manager) Enqueue(ctx context.Context, name string, item *Item) (int64, error) {
	data, err := m.project(item, nil)
	if err != nil {
		return 0, err
	}

	res, err := fifoPushScript.Run(ctx, m.client,
		[]string{m.fifoKey(name), m.itemsKey(name)},
		item.ID,
		data,
		m.projectionTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, m.storeErr("enqueue", name, err)
	}
	if len(res) != 2 {
		return 0, m.storeErr("enqueue", name, fmt.Errorf("unexpected script reply %v", res))
	}

	position := res[1]
	m.logger.Debug("Item enqueued",
		slog.String("queue", name),
		slog.String("item_id", item.ID),
		slog.Bool("already_queued", res[0] == 0),
		slog.Int64("position", position),
	)
	return position, nil
}

// EnqueueWithPriority inserts item into the priority path and returns its
// 1-based rank, lowest score first. The rank is a point-in-time snapshot.
// An id that is already on the priority path keeps its score.
func (m *Manager) EnqueueWithPriority(ctx context.Context, name string, item *Item, priority int) (int64, error) {
	data, err := m.project(item, &priority)
	if err != nil {
		return 0, err
	}

	seq, err := m.client.Incr(ctx, m.seqKey(name)).Result()
	if err != nil {
		return 0, m.storeErr("allocate sequence", name, err)
	}
	score := m.Score(priority, seq)

	pipe := m.client.TxPipeline()
	m.storeProjection(ctx, pipe, name, item.ID, data)
	pipe.ZAddNX(ctx, m.priorityKey(name), redis.Z{Score: score, Member: item.ID})
	rank := pipe.ZRank(ctx, m.priorityKey(name), item.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, m.storeErr("enqueue with priority", name, err)
	}

	position := rank.Val() + 1
	m.logger.Debug("Item enqueued with priority",
		slog.String("queue", name),
		slog.String("item_id", item.ID),
		slog.Int("priority", priority),
		slog.Int64("position", position),
	)
	return position, nil
}

// DequeueByPriority atomically removes the lowest-score entry and returns its
// projection. An empty queue yields (nil, nil).
func (m *Manager) DequeueByPriority(ctx context.Context, name string) (*Item, error) {
	popped, err := m.client.ZPopMin(ctx, m.priorityKey(name), 1).Result()
	if err != nil {
		return nil, m.storeErr("dequeue by priority", name, err)
	}
	if len(popped) == 0 {
		return nil, nil
	}

	id, ok := popped[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected member type %T in queue %s", popped[0].Member, name)
	}
	return m.takeProjection(ctx, name, id)
}

// Dequeue removes the head of the FIFO path. An empty queue yields (nil, nil).
func (m *Manager) Dequeue(ctx context.Context, name string) (*Item, error) {
	id, err := m.client.LPop(ctx, m.fifoKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, m.storeErr("dequeue", name, err)
	}
	return m.takeProjection(ctx, name, id)
}

// Length returns the number of items on the FIFO path.
func (m *Manager) Length(ctx context.Context, name string) (int64, error) {
	n, err := m.client.LLen(ctx, m.fifoKey(name)).Result()
	if err != nil {
		return 0, m.storeErr("length", name, err)
	}
	return n, nil
}

// PriorityLength returns the number of items on the priority path.
func (m *Manager) PriorityLength(ctx context.Context, name string) (int64, error) {
	n, err := m.client.ZCard(ctx, m.priorityKey(name)).Result()
	if err != nil {
		return 0, m.storeErr("priority length", name, err)
	}
	return n, nil
}

// Stats returns the depth of both paths in one round trip.
func (m *Manager) Stats(ctx context.Context, name string) (*Stats, error) {
	pipe := m.client.Pipeline()
	fifo := pipe.LLen(ctx, m.fifoKey(name))
	prio := pipe.ZCard(ctx, m.priorityKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, m.storeErr("stats", name, err)
	}
	return &Stats{Name: name, FIFOLength: fifo.Val(), PriorityLength: prio.Val()}, nil
}

// RankOf returns the 1-based rank of id on the priority path.
func (m *Manager) RankOf(ctx context.Context, name, id string) (int64, error) {
	rank, err := m.client.ZRank(ctx, m.priorityKey(name), id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotQueued
	}
	if err != nil {
		return 0, m.storeErr("rank", name, err)
	}
	return rank + 1, nil
}

// Position returns the 1-based position of id on whichever path holds it.
func (m *Manager) Position(ctx context.Context, name, id string) (int64, error) {
	rank, err := m.RankOf(ctx, name, id)
	if err == nil || !errors.Is(err, ErrNotQueued) {
		return rank, err
	}

	idx, err := m.client.LPos(ctx, m.fifoKey(name), id, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotQueued
	}
	if err != nil {
		return 0, m.storeErr("position", name, err)
	}
	return idx + 1, nil
}

// Contains reports whether id is on either path of the queue.
func (m *Manager) Contains(ctx context.Context, name, id string) (bool, error) {
	_, err := m.Position(ctx, name, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotQueued):
		return false, nil
	default:
		return false, err
	}
}

// OrderedSnapshot returns the priority path in dequeue order.
func (m *Manager) OrderedSnapshot(ctx context.Context, name string) ([]Entry, error) {
	zs, err := m.client.ZRangeWithScores(ctx, m.priorityKey(name), 0, -1).Result()
	if err != nil {
		return nil, m.storeErr("snapshot", name, err)
	}

	entries := make([]Entry, 0, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		entries = append(entries, Entry{ID: id, Score: z.Score, Rank: int64(i) + 1})
	}
	return entries, nil
}

// Remove deletes id from both paths and drops its projection. It reports
// whether anything was removed.
func (m *Manager) Remove(ctx context.Context, name, id string) (bool, error) {
	pipe := m.client.TxPipeline()
	zrem := pipe.ZRem(ctx, m.priorityKey(name), id)
	lrem := pipe.LRem(ctx, m.fifoKey(name), 0, id)
	pipe.HDel(ctx, m.itemsKey(name), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, m.storeErr("remove", name, err)
	}
	return zrem.Val()+lrem.Val() > 0, nil
}

func (m *Manager) project(item *Item, priority *int) ([]byte, error) {
	if item == nil || item.ID == "" {
		return nil, fmt.Errorf("queue item must have an id")
	}
	p := *item
	if priority != nil {
		p.Priority = priority
	}
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = m.now().UTC()
	}
	data, err := json.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return data, nil
}

func (m *Manager) storeProjection(ctx context.Context, pipe redis.Pipeliner, name, id string, data []byte) {
	pipe.HSet(ctx, m.itemsKey(name), id, data)
	if m.projectionTTL > 0 {
		pipe.Expire(ctx, m.itemsKey(name), m.projectionTTL)
	}
}

// takeProjection reads and drops the projection of a popped id. A missing
// projection still yields an Item carrying the id.
func (m *Manager) takeProjection(ctx context.Context, name, id string) (*Item, error) {
	pipe := m.client.TxPipeline()
	get := pipe.HGet(ctx, m.itemsKey(name), id)
	pipe.HDel(ctx, m.itemsKey(name), id)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, m.storeErr("load projection", name, err)
	}

	data, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		m.logger.Warn("Queue projection missing",
			slog.String("queue", name),
			slog.String("item_id", id),
		)
		return &Item{ID: id}, nil
	}
	if err != nil {
		return nil, m.storeErr("load projection", name, err)
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue item %s: %w", id, err)
	}
	return &item, nil
}

func (m *Manager) storeErr(op, name string, err error) error {
	m.logger.Error("Queue operation failed",
		slog.String("operation", op),
		slog.String("queue", name),
		slog.Any("error", err),
	)
	return fmt.Errorf("%w: failed to %s on %s: %w", ErrStoreUnavailable, op, name, err)
}
