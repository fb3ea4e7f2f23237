package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-presence/internal/core"
	"github.com/vovakirdan/wirechat-presence/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", ApplySchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCreateParticipant_Conflict(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "alice", t0))
	err := s.CreateParticipant(ctx, "alice", t0.Add(time.Second))
	req.ErrorIs(err, core.ErrConflict)

	p, err := s.GetParticipant(ctx, "alice")
	req.NoError(err)
	req.True(p.LastStatus.Equal(t0), "conflicting insert must not overwrite the heartbeat")
}

func TestTouchParticipant(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.ErrorIs(s.TouchParticipant(ctx, "ghost", t0), core.ErrNotFound)

	req.NoError(s.CreateParticipant(ctx, "alice", t0))
	req.NoError(s.TouchParticipant(ctx, "alice", t0.Add(9*time.Second)))

	p, err := s.GetParticipant(ctx, "alice")
	req.NoError(err)
	req.True(p.LastStatus.Equal(t0.Add(9 * time.Second)))

	_, err = s.GetParticipant(ctx, "ghost")
	req.ErrorIs(err, core.ErrNotFound)
}

func TestListParticipants_InsertionOrder(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		req.NoError(s.CreateParticipant(ctx, name, t0))
	}

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Equal([]string{"carol", "alice", "bob"}, lo.Map(list, func(p core.Participant, _ int) string { return p.Name }))
}

func TestRemoveStaleBefore(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "stale-1", t0))
	req.NoError(s.CreateParticipant(ctx, "stale-2", t0.Add(time.Second)))
	req.NoError(s.CreateParticipant(ctx, "fresh", t0.Add(10*time.Second)))
	req.NoError(s.CreateParticipant(ctx, "edge", t0.Add(5*time.Second)))

	threshold := t0.Add(5 * time.Second)
	removed, err := s.RemoveStaleBefore(ctx, threshold)
	req.NoError(err)
	req.ElementsMatch([]string{"stale-1", "stale-2"}, lo.Map(removed, func(p core.Participant, _ int) string { return p.Name }))

	// Heartbeat equal to the threshold is not stale.
	_, err = s.GetParticipant(ctx, "edge")
	req.NoError(err)
	_, err = s.GetParticipant(ctx, "fresh")
	req.NoError(err)
	_, err = s.GetParticipant(ctx, "stale-1")
	req.ErrorIs(err, core.ErrNotFound)

	again, err := s.RemoveStaleBefore(ctx, threshold)
	req.NoError(err)
	req.Empty(again)
}

func TestRemoveStaleBefore_TouchBeforeSweepWins(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	req.NoError(s.CreateParticipant(ctx, "alice", t0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.TouchParticipant(ctx, "alice", t0.Add(20*time.Second+time.Duration(i)))
		}(i)
	}
	wg.Wait()

	removed, err := s.RemoveStaleBefore(ctx, t0.Add(10*time.Second))
	req.NoError(err)
	req.Empty(removed)

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.Len(list, 1)
}

func TestRemoveStaleBefore_ConcurrentTouch(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

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
		removed, sweepErr = s.RemoveStaleBefore(ctx, t0.Add(10*time.Second))
	}()
	close(start)
	wg.Wait()
	req.NoError(sweepErr)

	list, err := s.ListParticipants(ctx)
	req.NoError(err)
	req.LessOrEqual(len(list), 1)

	switch len(removed) {
	case 0:
		req.Len(list, 1, "participant not removed must still exist")
	case 1:
		req.Equal("alice", removed[0].Name)
		req.True(removed[0].Stale(t0.Add(10*time.Second)), "only a stale heartbeat may be removed")
		req.Empty(list, "removed participant must be gone")
	default:
		t.Fatalf("participant removed more than once: %+v", removed)
	}
}

func TestListVisibleMessages_LimitKeepsMostRecent(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		msg := &core.Message{
			From: "alice",
			To:   core.BroadcastTarget,
			Text: fmt.Sprintf("m%d", i),
			Kind: core.KindMessage,
		}
		req.NoError(s.AppendMessage(ctx, msg))
		req.NotEmpty(msg.ID)
		req.NotEmpty(msg.Time)
	}
	// Not visible to bob.
	req.NoError(s.AppendMessage(ctx, &core.Message{From: "alice", To: "carol", Text: "secret", Kind: core.KindPrivateMessage}))

	got, err := s.ListVisibleMessages(ctx, "bob", 2)
	req.NoError(err)
	req.Equal([]string{"m4", "m5"}, lo.Map(got, func(m core.Message, _ int) string { return m.Text }))

	all, err := s.ListVisibleMessages(ctx, "bob", 0)
	req.NoError(err)
	req.Len(all, 5)

	carol, err := s.ListVisibleMessages(ctx, "carol", 0)
	req.NoError(err)
	req.Len(carol, 6)
	req.Equal("secret", carol[5].Text)
}

func TestUpdateMessage_Ownership(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	msg := &core.Message{From: "dave", To: core.BroadcastTarget, Text: "original", Kind: core.KindMessage}
	req.NoError(s.AppendMessage(ctx, msg))

	_, err := s.UpdateMessage(ctx, msg.ID, "carol", store.MessageUpdate{To: "x", Text: "hacked", Kind: core.KindMessage})
	req.ErrorIs(err, core.ErrForbidden)

	unchanged, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal("original", unchanged.Text)
	req.Equal(core.BroadcastTarget, unchanged.To)

	updated, err := s.UpdateMessage(ctx, msg.ID, "dave", store.MessageUpdate{To: "erin", Text: "edited", Kind: core.KindPrivateMessage})
	req.NoError(err)
	req.Equal("edited", updated.Text)
	req.Equal(msg.Time, updated.Time)

	_, err = s.UpdateMessage(ctx, "missing", "dave", store.MessageUpdate{})
	req.ErrorIs(err, core.ErrNotFound)
}

func TestDeleteMessage_Ownership(t *testing.T) {
	req := require.New(t)
	s := newTestStore(t)
	ctx := context.Background()

	msg := &core.Message{From: "dave", To: core.BroadcastTarget, Text: "bye", Kind: core.KindMessage}
	req.NoError(s.AppendMessage(ctx, msg))

	_, err := s.DeleteMessage(ctx, msg.ID, "carol")
	req.ErrorIs(err, core.ErrForbidden)

	deleted, err := s.DeleteMessage(ctx, msg.ID, "dave")
	req.NoError(err)
	req.Equal("bye", deleted.Text)

	_, err = s.DeleteMessage(ctx, msg.ID, "dave")
	req.ErrorIs(err, core.ErrNotFound)
}
