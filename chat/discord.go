package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Thread auto-archive policy: inactive match threads fold after a day.
const threadAutoArchiveMinutes = 1440

// DiscordClient adapts a discordgo session to the Client interface and
// feeds component interactions into the action router.
type DiscordClient struct {
	session *discordgo.Session
	router  *Router
	logger  *slog.Logger
}

func NewDiscordClient(token string, router *Router, logger *slog.Logger) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	c := &DiscordClient{session: session, router: router, logger: logger}
	session.AddHandler(c.onInteraction)
	return c, nil
}

// Open starts the gateway connection. Close is the matching shutdown half.
func (c *DiscordClient) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

func (c *DiscordClient) Close() error {
	return c.session.Close()
}

func (c *DiscordClient) CreateThread(ctx context.Context, channelID, title string) (string, error) {
	thread, err := c.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                title,
		AutoArchiveDuration: threadAutoArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create thread in channel %s: %w", channelID, err)
	}
	return thread.ID, nil
}

func (c *DiscordClient) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.session.ChannelDelete(threadID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

func (c *DiscordClient) AddThreadMember(ctx context.Context, threadID, userID string) error {
	if err := c.session.ThreadMemberAdd(threadID, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add member %s to thread %s: %w", userID, threadID, err)
	}
	return nil
}

func (c *DiscordClient) SendMessage(ctx context.Context, threadID, content string, buttons []Button) error {
	msg := &discordgo.MessageSend{Content: content}
	if len(buttons) > 0 {
		row := discordgo.ActionsRow{}
		for _, b := range buttons {
			style := discordgo.SecondaryButton
			if b.Primary {
				style = discordgo.PrimaryButton
			}
			row.Components = append(row.Components, discordgo.Button{
				Label:    b.Label,
				Style:    style,
				CustomID: b.CustomID,
			})
		}
		msg.Components = []discordgo.MessageComponent{row}
	}
	if _, err := c.session.ChannelMessageSendComplex(threadID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message to thread %s: %w", threadID, err)
	}
	return nil
}

// onInteraction routes button presses through the dispatch table and answers
// with an ephemeral reply so only the pressing user sees the outcome.
func (c *DiscordClient) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	actor := Actor{}
	if i.Member != nil && i.Member.User != nil {
		actor.UserID = i.Member.User.ID
		actor.IsAdmin = i.Member.Permissions&discordgo.PermissionManageChannels != 0
	} else if i.User != nil {
		actor.UserID = i.User.ID
	}

	reply := c.router.Dispatch(context.Background(), i.MessageComponentData().CustomID, actor)

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply.Message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		c.logger.Error("failed to respond to interaction",
			slog.String("custom_id", i.MessageComponentData().CustomID),
			slog.Any("error", err))
	}
}
