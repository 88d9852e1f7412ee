// Package cache keeps hot proposal snapshots and batch-run status in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"grantsmith/api/internal/proposal"
)

const (
	DefaultSnapshotTTL = 10 * time.Minute
	runStatusTTL       = 24 * time.Hour
)

// RunState is the coarse progress of a batch run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// RunStatus is the latest known progress of a proposal's batch run.
type RunStatus struct {
	RunID      string    `json:"runId"`
	ProposalID string    `json:"proposalId"`
	State      RunState  `json:"state"`
	Current    string    `json:"current,omitempty"`
	Done       int       `json:"done"`
	Total      int       `json:"total"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RedisStore caches snapshots under proposal:<id> and run status under run:<id>.
type RedisStore struct {
	client         *redis.Client
	snapshotPrefix string
	runPrefix      string
	ttl            time.Duration
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisStore{
		client:         client,
		snapshotPrefix: "proposal:",
		runPrefix:      "run:",
		ttl:            ttl,
	}
}

// GetProposal returns the cached snapshot. A miss is (zero, false, nil).
func (s *RedisStore) GetProposal(ctx context.Context, id string) (proposal.Document, bool, error) {
	raw, err := s.client.Get(ctx, s.snapshotPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return proposal.Document{}, false, nil
	}
	if err != nil {
		return proposal.Document{}, false, fmt.Errorf("read cached proposal: %w", err)
	}
	var doc proposal.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = s.client.Del(ctx, s.snapshotPrefix+id).Err()
		return proposal.Document{}, false, nil
	}
	return doc, true, nil
}

func (s *RedisStore) PutProposal(ctx context.Context, doc proposal.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotPrefix+doc.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache proposal: %w", err)
	}
	return nil
}

func (s *RedisStore) InvalidateProposal(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.snapshotPrefix+id, s.runPrefix+id).Err(); err != nil {
		return fmt.Errorf("invalidate proposal: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveRunStatus(ctx context.Context, status RunStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal run status: %w", err)
	}
	if err := s.client.Set(ctx, s.runPrefix+status.ProposalID, raw, runStatusTTL).Err(); err != nil {
		return fmt.Errorf("save run status: %w", err)
	}
	return nil
}

// GetRunStatus returns the latest run status for a proposal. A miss is
// (zero, false, nil).
func (s *RedisStore) GetRunStatus(ctx context.Context, proposalID string) (RunStatus, bool, error) {
	raw, err := s.client.Get(ctx, s.runPrefix+proposalID).Bytes()
	if errors.Is(err, redis.Nil) {
		return RunStatus{}, false, nil
	}
	if err != nil {
		return RunStatus{}, false, fmt.Errorf("read run status: %w", err)
	}
	var status RunStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return RunStatus{}, false, fmt.Errorf("unmarshal run status: %w", err)
	}
	return status, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
