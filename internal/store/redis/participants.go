package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// ParticipantStore keeps participants in a sorted set scored by their last
// heartbeat (unix milliseconds). A second sorted set, scored by an
// increasing counter, preserves insertion order.
type ParticipantStore struct {
	client     *goredis.Client
	heartbeats string
	order      string
	counter    string
}

var _ store.ParticipantStore = (*ParticipantStore)(nil)

// KEYS: heartbeats, order, counter. ARGV: name, score.
var createScript = goredis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// KEYS: heartbeats. ARGV: name, score.
var touchScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// KEYS: heartbeats, order. ARGV: threshold score (exclusive).
var removeStaleScript = goredis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'WITHSCORES')
for i = 1, #stale, 2 do
	redis.call('ZREM', KEYS[1], stale[i])
	redis.call('ZREM', KEYS[2], stale[i])
end
return stale
`)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*ParticipantStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewFromClient(client, opts.KeyPrefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client, prefix string) *ParticipantStore {
	return &ParticipantStore{
		client:     client,
		heartbeats: prefix + "participants:heartbeats",
		order:      prefix + "participants:order",
		counter:    prefix + "participants:seq",
	}
}

// Ping checks the Redis connection.
func (s *ParticipantStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *ParticipantStore) Close() error {
	return s.client.Close()
}

// CreateParticipant inserts name unless it is already present.
func (s *ParticipantStore) CreateParticipant(ctx context.Context, name string, now time.Time) error {
	ok, err := createScript.Run(ctx, s.client,
		[]string{s.heartbeats, s.order, s.counter}, name, now.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("participant %q: %w", name, core.ErrConflict)
	}
	return nil
}

// TouchParticipant refreshes the heartbeat of an existing participant.
func (s *ParticipantStore) TouchParticipant(ctx context.Context, name string, now time.Time) error {
	ok, err := touchScript.Run(ctx, s.client, []string{s.heartbeats}, name, now.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
	}
	return nil
}

// GetParticipant retrieves a participant by name.
func (s *ParticipantStore) GetParticipant(ctx context.Context, name string) (*core.Participant, error) {
	score, err := s.client.ZScore(ctx, s.heartbeats, name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &core.Participant{Name: name, LastStatus: time.UnixMilli(int64(score))}, nil
}

// ListParticipants lists all participants in insertion order.
func (s *ParticipantStore) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	order, err := s.client.ZRangeWithScores(ctx, s.order, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	heartbeats, err := s.client.ZRangeWithScores(ctx, s.heartbeats, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	seq := make(map[string]float64, len(order))
	for _, z := range order {
		name, _ := z.Member.(string)
		seq[name] = z.Score
	}

	participants := make([]core.Participant, 0, len(heartbeats))
	for _, z := range heartbeats {
		name, _ := z.Member.(string)
		participants = append(participants, core.Participant{
			Name:       name,
			LastStatus: time.UnixMilli(int64(z.Score)),
		})
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return seq[participants[i].Name] < seq[participants[j].Name]
	})

	return participants, nil
}

// RemoveStaleBefore removes every participant whose heartbeat is older than
// threshold inside a single script execution.
func (s *ParticipantStore) RemoveStaleBefore(ctx context.Context, threshold time.Time) ([]core.Participant, error) {
	raw, err := removeStaleScript.Run(ctx, s.client,
		[]string{s.heartbeats, s.order}, threshold.UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("remove stale participants: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("remove stale participants: unexpected reply length %d", len(raw))
	}

	removed := make([]core.Participant, 0, len(raw)/2)
	for i := 0; i < len(raw); i += 2 {
		ms, err := strconv.ParseFloat(raw[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse heartbeat of %q: %w", raw[i], err)
		}
		removed = append(removed, core.Participant{
			Name:       raw[i],
			LastStatus: time.UnixMilli(int64(ms)),
		})
	}

	return removed, nil
}
