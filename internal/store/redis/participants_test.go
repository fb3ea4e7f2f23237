package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-presence/internal/core"
)

var t0 = time.UnixMilli(1_714_564_800_000)

func newTestStore(t *testing.T) *ParticipantStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := NewFromClient(client, "test:")
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func names(ps []core.Participant) []string {
	return lo.Map(ps, func(p core.Participant, _ int) string { return p.Name })
}

func TestParticipantStore_CreateAndTouch(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.Ping(ctx))
	req.NoError(s.CreateParticipant(ctx, "alice", t0))
	req.ErrorIs(s.CreateParticipant(ctx, "alice", t0), core.ErrConflict)

	req.ErrorIs(s.TouchParticipant(ctx, "bob", t0), core.ErrNotFound)
	req.NoError(s.TouchParticipant(ctx, "alice", t0.Add(9*time.Second)))
	// Same timestamp twice is still a successful touch.
	req.NoError(s.TouchParticipant(ctx, "alice", t0.Add(9*time.Second)))

	p, err := s.GetParticipant(ctx, "alice")
	req.NoError(err)
	req.Equal(t0.Add(9*time.Second).UnixMilli(), p.LastStatus.UnixMilli())

	_, err = s.GetParticipant(ctx, "bob")
	req.ErrorIs(err, core.ErrNotFound)
}

func TestParticipantStore_ListInsertionOrder(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "carol", t0.Add(3*time.Second)))
	req.NoError(s.CreateParticipant(ctx, "alice", t0.Add(1*time.Second)))
	req.NoError(s.CreateParticipant(ctx, "bob", t0.Add(2*time.Second)))

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Equal([]string{"carol", "alice", "bob"}, names(list))
}

func TestParticipantStore_RemoveStaleBefore(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "old", t0))
	req.NoError(s.CreateParticipant(ctx, "edge", t0.Add(10*time.Second)))
	req.NoError(s.CreateParticipant(ctx, "new", t0.Add(20*time.Second)))

	threshold := t0.Add(10 * time.Second)
	removed, err := s.RemoveStaleBefore(ctx, threshold)
	req.NoError(err)
	req.Equal([]string{"old"}, names(removed))
	req.Equal(t0.UnixMilli(), removed[0].LastStatus.UnixMilli())

	again, err := s.RemoveStaleBefore(ctx, threshold)
	req.NoError(err)
	req.Empty(again)

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Equal([]string{"edge", "new"}, names(list))

	// A removed name can register again.
	req.NoError(s.CreateParticipant(ctx, "old", t0.Add(30*time.Second)))
}

func TestParticipantStore_TouchBeforeSweepWins(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "alice", t0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.TouchParticipant(ctx, "alice", t0.Add(20*time.Second+time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	removed, err := s.RemoveStaleBefore(ctx, t0.Add(10*time.Second))
	req.NoError(err)
	req.Empty(removed)

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Equal([]string{"alice"}, names(list))
}

func TestParticipantStore_ConcurrentTouchAndSweep(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()
	threshold := t0.Add(10 * time.Second)

	req.NoError(s.CreateParticipant(ctx, "alice", t0))

	var (
		wg       sync.WaitGroup
		removed  []core.Participant
		sweepErr error
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.TouchParticipant(ctx, "alice", t0.Add(20*time.Second))
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				t.Errorf("unexpected touch error: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		removed, sweepErr = s.RemoveStaleBefore(ctx, threshold)
	}()
	close(start)
	wg.Wait()
	req.NoError(sweepErr)

	list, err := s.ListParticipants(ctx)
	req.NoError(err)

	switch len(removed) {
	case 0:
		req.Equal([]string{"alice"}, names(list), "participant not removed must still exist")
		req.False(list[0].Stale(threshold), "surviving participant must carry the fresh heartbeat")
	case 1:
		req.Equal("alice", removed[0].Name)
		req.True(removed[0].Stale(threshold), "only a stale heartbeat may be removed")
		req.Empty(list, "removed participant must be gone")
	default:
		t.Fatalf("participant removed more than once: %+v", removed)
	}

	// A second sweep never reports the same name again.
	again, err := s.RemoveStaleBefore(ctx, threshold)
	req.NoError(err)
	req.Empty(again)
}
