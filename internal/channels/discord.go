package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Discord wraps a discordgo.Session as the concrete chat-platform
// collaborator for outbound delivery (throttle.Executor), thread creation
// (autothread.ThreadCreator), and plain text sends (autothread.Sender).
// This is the one place the "assumed primitives" of spec.md §1 (send
// text, create thread, attach action row) meet a real SDK.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord opens a session authenticated with token. It does not open
// the gateway connection itself — callers invoke Open/Close around the
// bot's lifecycle so REST-only usage (as in tests) doesn't need a live
// gateway.
func NewDiscord(token string) (*Discord, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	return &Discord{session: s}, nil
}

// Open starts the gateway connection (needed to receive interaction
// events for the Approval Broker's buttons/selects).
func (d *Discord) Open() error { return d.session.Open() }

// Close tears down the gateway connection.
func (d *Discord) Close() error { return d.session.Close() }

// AddInteractionHandler registers fn to receive every interaction create
// event (button clicks, select-menu submissions), the wire source for
// internal/approval.ParseCustomID.
func (d *Discord) AddInteractionHandler(fn func(s *discordgo.Session, i *discordgo.InteractionCreate)) {
	d.session.AddHandler(fn)
}

// Execute implements throttle.Executor: a plain text send to channelID.
// Errors from discordgo, including rate-limit errors, are returned
// unchanged; nothing converts them to *throttle.RateLimitError, so the
// throttle queue's 429 pause-and-requeue path is not taken for Discord
// sends (cmd/serve.go passes Execute to throttle.NewQueue directly).
func (d *Discord) Execute(ctx context.Context, channelID, payload string) error {
	_, err := d.session.ChannelMessageSend(channelID, payload, discordgo.WithContext(ctx))
	return err
}

// SendText implements autothread.Sender.
func (d *Discord) SendText(ctx context.Context, channelID, text string) error {
	return d.Execute(ctx, channelID, text)
}

// CreateThread implements autothread.ThreadCreator: starts a public
// thread under parentChannelID with no starter message.
func (d *Discord) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	ch, err := d.session.ThreadStartComplex(parentChannelID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration:  1440,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: create thread: %w", err)
	}
	return ch.ID, nil
}

// SendEmbed implements autothread.ThreadCreator's optional initial embed.
func (d *Discord) SendEmbed(ctx context.Context, threadID, title, body string) error {
	_, err := d.session.ChannelMessageSendEmbed(threadID, &discordgo.MessageEmbed{
		Title:       title,
		Description: body,
	}, discordgo.WithContext(ctx))
	return err
}

// approvalActionRow builds the ≤5-button action row for a
// commandExecution/fileChange approval prompt (spec.md §4.J).
func approvalActionRow(customIDs []string, labels []string, styles []discordgo.ButtonStyle) discordgo.ActionsRow {
	var buttons []discordgo.MessageComponent
	for i := range customIDs {
		buttons = append(buttons, discordgo.Button{
			Label:    labels[i],
			Style:    styles[i],
			CustomID: customIDs[i],
		})
	}
	return discordgo.ActionsRow{Components: buttons}
}

// SendApprovalPrompt posts a command/file-change approval prompt with
// accept/decline (and, for commandExecution, acceptForSession) buttons.
func (d *Discord) SendApprovalPrompt(ctx context.Context, channelID, content string, acceptID, acceptForSessionID, declineID string) error {
	labels := []string{"Accept", "Decline"}
	ids := []string{acceptID, declineID}
	styles := []discordgo.ButtonStyle{discordgo.SuccessButton, discordgo.DangerButton}
	if acceptForSessionID != "" {
		labels = []string{"Accept", "Accept for session", "Decline"}
		ids = []string{acceptID, acceptForSessionID, declineID}
		styles = []discordgo.ButtonStyle{discordgo.SuccessButton, discordgo.PrimaryButton, discordgo.DangerButton}
	}

	_, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    content,
		Components: []discordgo.MessageComponent{approvalActionRow(ids, labels, styles)},
	}, discordgo.WithContext(ctx))
	return err
}
