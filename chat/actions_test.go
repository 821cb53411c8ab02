package chat

import (
	"context"
	"testing"
)

func TestDispatchRoutesToHandler(t *testing.T) {
	r := NewRouter()
	var got Action
	r.Register("report", 1, 2, func(ctx context.Context, act Action) Reply {
		got = act
		return Reply{OK: true, Message: "ok"}
	})

	reply := r.Dispatch(context.Background(), "report:42:2:3-1", Actor{UserID: "u1"})
	if !reply.OK {
		t.Fatalf("expected OK reply, got %+v", reply)
	}
	if got.MatchID != 42 || len(got.Args) != 2 || got.Args[0] != "2" || got.Args[1] != "3-1" {
		t.Fatalf("unexpected action: %+v", got)
	}
	if got.Actor.UserID != "u1" {
		t.Fatalf("actor lost: %+v", got.Actor)
	}
}

func TestDispatchMalformedID(t *testing.T) {
	r := NewRouter()
	reply := r.Dispatch(context.Background(), "checkin", Actor{})
	if reply.OK || reply.Message != "malformed interaction id" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	r := NewRouter()
	reply := r.Dispatch(context.Background(), "explode:1", Actor{})
	if reply.OK || reply.Message != "unrecognized action: explode" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestDispatchRejectsBadMatchID(t *testing.T) {
	r := NewRouter()
	r.Register("checkin", 0, 0, func(ctx context.Context, act Action) Reply {
		t.Fatal("handler must not run")
		return Reply{}
	})

	for _, id := range []string{"checkin:abc", "checkin:0", "checkin:-5"} {
		reply := r.Dispatch(context.Background(), id, Actor{})
		if reply.OK || reply.Message != "malformed match id" {
			t.Fatalf("%s: unexpected reply %+v", id, reply)
		}
	}
}

func TestDispatchEnforcesArgBounds(t *testing.T) {
	r := NewRouter()
	r.Register("report", 1, 2, func(ctx context.Context, act Action) Reply {
		return Reply{OK: true}
	})

	for _, id := range []string{"report:7", "report:7:1:2-0:extra"} {
		reply := r.Dispatch(context.Background(), id, Actor{})
		if reply.OK || reply.Message != "wrong number of arguments for report" {
			t.Fatalf("%s: unexpected reply %+v", id, reply)
		}
	}
}
