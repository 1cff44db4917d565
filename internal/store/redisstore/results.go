// Package redisstore keeps task execution results in Redis hashes, one per
// task ref, expiring after a fixed TTL.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

const keyPrefix = "oneiros:task:"

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, ttl)
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Close() error { return s.rdb.Close() }

func key(ref string) string { return keyPrefix + ref }

// Set overwrites the task's hash and refreshes its TTL.
func (s *Store) Set(ctx context.Context, ref string, r tasks.Result) error {
	k := key(ref)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, toFields(r))
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set task %s: %w", ref, err)
	}
	return nil
}

// Get returns nil, nil when the ref is unknown or expired.
func (s *Store) Get(ctx context.Context, ref string) (*tasks.Result, error) {
	m, err := s.rdb.HGetAll(ctx, key(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get task %s: %w", ref, err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	r := fromFields(m)
	return &r, nil
}

func toFields(r tasks.Result) map[string]any {
	return map[string]any{
		"status":     string(r.Status),
		"kind":       string(r.Kind),
		"owner":      strconv.FormatUint(r.Owner, 10),
		"result":     r.Result,
		"error":      r.Error,
		"updated_at": r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromFields(m map[string]string) tasks.Result {
	r := tasks.Result{
		Status: tasks.State(m["status"]),
		Kind:   tasks.Kind(m["kind"]),
		Result: m["result"],
		Error:  m["error"],
	}
	if r.Status == "" {
		r.Status = tasks.StatePending
	}
	if id, err := strconv.ParseUint(m["owner"], 10, 64); err == nil {
		r.Owner = id
	}
	if t, err := time.Parse(time.RFC3339Nano, m["updated_at"]); err == nil {
		r.UpdatedAt = t
	}
	return r
}

var _ tasks.ResultStore = (*Store)(nil)
