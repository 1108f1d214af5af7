package room

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

type fakeMembers struct {
	byConversation map[int64][]int64
	calls          int
}

func (f *fakeMembers) Participants(_ context.Context, conversationID int64) ([]int64, error) {
	f.calls++
	return f.byConversation[conversationID], nil
}

func newConn(t *testing.T, userID int64) *connection.Connection {
	t.Helper()
	c := connection.New(nil, io.Discard, connection.Identity{UserID: userID}, nil)
	t.Cleanup(c.Close)
	return c
}

func newHub() (*Hub, *fakeMembers) {
	members := &fakeMembers{byConversation: map[int64][]int64{
		100: {1, 2},
		200: {1, 3},
		300: {2, 3},
	}}
	return NewHub(members, nil), members
}

func TestJoin_OnlyParticipants(t *testing.T) {
	hub, _ := newHub()
	ctx := context.Background()

	if err := hub.Join(ctx, newConn(t, 1), 100); err != nil {
		t.Fatalf("participant join failed: %v", err)
	}
	err := hub.Join(ctx, newConn(t, 3), 100)
	if !errors.Is(err, sharedErrors.ErrNotParticipant) {
		t.Errorf("outsider join = %v, want ErrNotParticipant", err)
	}
	err = hub.Join(ctx, newConn(t, 1), 999)
	if !errors.Is(err, sharedErrors.ErrConversationNotFound) {
		t.Errorf("unknown conversation join = %v, want ErrConversationNotFound", err)
	}
}

func TestJoin_CachesParticipants(t *testing.T) {
	hub, members := newHub()
	ctx := context.Background()

	a := newConn(t, 1)
	b := newConn(t, 2)
	_ = hub.Join(ctx, a, 100)
	_ = hub.Join(ctx, b, 100)
	_ = hub.Join(ctx, a, 100)

	if members.calls != 1 {
		t.Errorf("participants fetched %d times, want 1", members.calls)
	}
	if n := len(hub.Members(100)); n != 2 {
		t.Errorf("members = %d, want 2", n)
	}
}

func TestLeave_StopsFanOut(t *testing.T) {
	hub, _ := newHub()
	ctx := context.Background()
	a := newConn(t, 1)
	b := newConn(t, 2)
	_ = hub.Join(ctx, a, 100)
	_ = hub.Join(ctx, b, 100)

	if !hub.Leave(a, 100) {
		t.Fatal("Leave should report membership")
	}
	if hub.Leave(a, 100) {
		t.Error("second Leave should report false")
	}
	if hub.InRoom(a, 100) {
		t.Error("connection still in room after leave")
	}
	members := hub.Members(100)
	if len(members) != 1 || members[0] != b {
		t.Errorf("members after leave = %v", members)
	}

	hub.Leave(b, 100)
	if hub.Count() != 0 {
		t.Errorf("empty room should be released, count = %d", hub.Count())
	}
}

func TestLeaveAll(t *testing.T) {
	hub, _ := newHub()
	ctx := context.Background()
	a := newConn(t, 1)
	_ = hub.Join(ctx, a, 100)
	_ = hub.Join(ctx, a, 200)

	left := hub.LeaveAll(a)
	if len(left) != 2 || left[0] != 100 || left[1] != 200 {
		t.Errorf("LeaveAll = %v", left)
	}
	if hub.Count() != 0 {
		t.Errorf("rooms remaining = %d", hub.Count())
	}
}

func TestPresenceWatchers_RoomScoped(t *testing.T) {
	hub, _ := newHub()
	ctx := context.Background()

	u1 := newConn(t, 1)
	u2a := newConn(t, 2)
	u2b := newConn(t, 2)
	u3 := newConn(t, 3)

	_ = hub.Join(ctx, u2a, 100) // 2 看着和 1 的会话
	_ = hub.Join(ctx, u2a, 300) // 同一连接也看着和 3 的会话
	_ = hub.Join(ctx, u2b, 100)
	_ = hub.Join(ctx, u3, 300)
	_ = hub.Join(ctx, u1, 200)

	watchers := hub.PresenceWatchers(1)
	if len(watchers) != 2 {
		t.Fatalf("watchers of 1 = %d, want 2 (both devices of user 2)", len(watchers))
	}
	for _, w := range watchers {
		if w.UserID() != 2 {
			t.Errorf("unexpected watcher user %d", w.UserID())
		}
	}

	// user 3 和 1 共享会话 200，但没有打开它
	for _, w := range hub.PresenceWatchers(1) {
		if w == u3 {
			t.Error("user 3 has no open conversation with user 1")
		}
	}

	// 不会把自己的连接当成关注者
	for _, w := range hub.PresenceWatchers(3) {
		if w.UserID() == 3 {
			t.Error("own connection returned as watcher")
		}
	}
	if n := len(hub.PresenceWatchers(3)); n != 2 {
		t.Errorf("watchers of 3 = %d, want 2 (u1 via 200, u2a via 300)", n)
	}
}
