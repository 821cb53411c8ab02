// Package chat consumes the chat platform's thread and message primitives
// and routes inbound button presses to registered actions.
package chat

import "context"

// Button is rendered as a message component; pressing it delivers CustomID
// back through the action router.
type Button struct {
	Label    string
	CustomID string
	Primary  bool
}

// Client is the outbound surface the lifecycle service needs from the chat
// platform. Implemented by the Discord adapter; faked in tests.
type Client interface {
	// CreateThread opens a thread under the given channel and returns its id.
	CreateThread(ctx context.Context, channelID, title string) (string, error)
	// DeleteThread removes a thread. Used to clean up orphans when the
	// datastore half of provisioning loses its race.
	DeleteThread(ctx context.Context, threadID string) error
	AddThreadMember(ctx context.Context, threadID, userID string) error
	SendMessage(ctx context.Context, threadID, content string, buttons []Button) error
}
