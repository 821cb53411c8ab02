package chat

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Actor identifies the chat user behind an inbound button press.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// Action is a parsed, validated button press: an action name, the match it
// targets, and any remaining ordered arguments.
type Action struct {
	Name    string
	MatchID int
	Args    []string
	Actor   Actor
}

// Reply is what the platform adapter shows the pressing user.
type Reply struct {
	OK      bool
	Message string
}

type HandlerFunc func(ctx context.Context, act Action) Reply

type route struct {
	minArgs int
	maxArgs int
	fn      HandlerFunc
}

// Router is a closed dispatch table from action name to handler, registered
// at startup and looked up by exact match. Unknown names produce a typed
// "unrecognized action" reply, never a silent no-op.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]route)}
}

// Register binds an action name to a handler. minArgs/maxArgs bound the
// argument count after the match id.
func (r *Router) Register(name string, minArgs, maxArgs int, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[name] = route{minArgs: minArgs, maxArgs: maxArgs, fn: fn}
}

// Dispatch parses a custom id of the form "<action>:<matchID>[:<arg>...]",
// rejects malformed ids before any handler runs, and invokes the handler.
func (r *Router) Dispatch(ctx context.Context, customID string, actor Actor) Reply {
	parts := strings.Split(customID, ":")
	if len(parts) < 2 {
		return Reply{Message: "malformed interaction id"}
	}

	name := parts[0]
	r.mu.RLock()
	rt, ok := r.routes[name]
	r.mu.RUnlock()
	if !ok {
		return Reply{Message: "unrecognized action: " + name}
	}

	matchID, err := strconv.Atoi(parts[1])
	if err != nil || matchID <= 0 {
		return Reply{Message: "malformed match id"}
	}

	args := parts[2:]
	if len(args) < rt.minArgs || len(args) > rt.maxArgs {
		return Reply{Message: "wrong number of arguments for " + name}
	}

	return rt.fn(ctx, Action{Name: name, MatchID: matchID, Args: args, Actor: actor})
}
