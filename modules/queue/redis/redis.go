// Package redis implements the durable DLQ queue on Redis: a list carries
// FIFO order, one hash per job carries payload and state. Jobs survive
// process restarts; at-least-once hand-off matches the queue contract.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/smedrec/smart-logs/internal/core"
	"github.com/smedrec/smart-logs/internal/queue"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ queue.Queue       = (*Queue)(nil)
)

// Config holds the redis queue settings.
type Config struct {
	Addr     string `yaml:"addr"`     // default 127.0.0.1:6379
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // key prefix, default smartlogs:dlq
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.Prefix == "" {
		c.Prefix = "smartlogs:dlq"
	}
}

// Module owns the redis client and registers the queue service.
type Module struct {
	config Config
	logger *slog.Logger
	client *goredis.Client
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "queue.redis",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	m.client = goredis.NewClient(&goredis.Options{
		Addr:     m.config.Addr,
		Password: m.config.Password,
		DB:       m.config.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue.redis: ping %s: %w", m.config.Addr, err)
	}

	ctx.RegisterService("queue.dlq", NewQueue(m.client, m.config.Prefix))
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Queue is the redis-backed queue.Queue.
type Queue struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

// NewQueue creates a queue over an existing client. The prefix namespaces
// all keys so multiple queues can share one Redis.
func NewQueue(client *goredis.Client, prefix string) *Queue {
	return &Queue{client: client, prefix: prefix, now: time.Now}
}

func (q *Queue) waitingKey() string      { return q.prefix + ":waiting" }
func (q *Queue) orderKey() string        { return q.prefix + ":order" }
func (q *Queue) jobKey(id string) string { return q.prefix + ":job:" + id }

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id := "job-" + uuid.NewString()
	enqueuedAt := q.now().UTC().Format(time.RFC3339Nano)

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]any{
		"payload":     payload,
		"state":       string(queue.StateWaiting),
		"enqueued_at": enqueuedAt,
	})
	pipe.RPush(ctx, q.orderKey(), id)
	pipe.RPush(ctx, q.waitingKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue.redis: enqueue: %w", err)
	}
	return id, nil
}

// Dequeue implements queue.Queue.
func (q *Queue) Dequeue(ctx context.Context) (*queue.Job, error) {
	id, err := q.client.LPop(ctx, q.waitingKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue.redis: dequeue: %w", err)
	}

	if err := q.client.HSet(ctx, q.jobKey(id), "state", string(queue.StateActive)).Err(); err != nil {
		return nil, fmt.Errorf("queue.redis: claiming job %s: %w", id, err)
	}
	return q.loadJob(ctx, id)
}

func (q *Queue) loadJob(ctx context.Context, id string) (*queue.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.redis: loading job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, queue.ErrJobNotFound
	}

	job := &queue.Job{
		ID:           id,
		State:        queue.State(fields["state"]),
		Payload:      []byte(fields["payload"]),
		FailedReason: fields["failed_reason"],
	}
	if raw := fields["enqueued_at"]; raw != "" {
		if job.EnqueuedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("queue.redis: job %s enqueued_at: %w", id, err)
		}
	}
	if raw := fields["processed_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("queue.redis: job %s processed_at: %w", id, err)
		}
		job.ProcessedAt = &t
	}
	return job, nil
}

// Complete implements queue.Queue.
func (q *Queue) Complete(ctx context.Context, id string, remove bool) error {
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("queue.redis: complete %s: %w", id, err)
	}
	if exists == 0 {
		return queue.ErrJobNotFound
	}
	if remove {
		return q.Remove(ctx, id)
	}

	if err := q.client.HSet(ctx, q.jobKey(id),
		"state", string(queue.StateCompleted),
		"processed_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("queue.redis: completing job %s: %w", id, err)
	}
	return nil
}

// Fail implements queue.Queue.
func (q *Queue) Fail(ctx context.Context, id string, reason string) error {
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("queue.redis: fail %s: %w", id, err)
	}
	if exists == 0 {
		return queue.ErrJobNotFound
	}

	if err := q.client.HSet(ctx, q.jobKey(id),
		"state", string(queue.StateFailed),
		"failed_reason", reason,
		"processed_at", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("queue.redis: failing job %s: %w", id, err)
	}
	return nil
}

// Remove implements queue.Queue.
func (q *Queue) Remove(ctx context.Context, id string) error {
	exists, err := q.client.Exists(ctx, q.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("queue.redis: remove %s: %w", id, err)
	}
	if exists == 0 {
		return queue.ErrJobNotFound
	}

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.jobKey(id))
	pipe.LRem(ctx, q.orderKey(), 0, id)
	pipe.LRem(ctx, q.waitingKey(), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue.redis: removing job %s: %w", id, err)
	}
	return nil
}

// List implements queue.Queue.
func (q *Queue) List(ctx context.Context, states ...queue.State) ([]*queue.Job, error) {
	ids, err := q.client.LRange(ctx, q.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.redis: listing jobs: %w", err)
	}

	want := make(map[queue.State]struct{}, len(states))
	for _, s := range states {
		want[s] = struct{}{}
	}

	var out []*queue.Job
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(want) > 0 {
			if _, ok := want[job.State]; !ok {
				continue
			}
		}
		out = append(out, job)
	}
	return out, nil
}
