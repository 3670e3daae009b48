package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bounty-board/models"

	"github.com/bwmarrin/discordgo"
)

const maxDiscordMessageLen = 2000

// ChannelSender is the part of *discordgo.Session the announcer needs.
type ChannelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord announces the activity types worth a channel post. Everything else is
// accepted and dropped.
type Discord struct {
	session   ChannelSender
	channelID string
	baseURL   string
}

func NewDiscord(session ChannelSender, channelID, baseURL string) *Discord {
	return &Discord{session: session, channelID: channelID, baseURL: strings.TrimRight(baseURL, "/")}
}

// NewDiscordSession opens a bot session from a token.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	return discordgo.New("Bot " + token)
}

var announcements = map[models.ActivityType]string{
	models.ActivityNewBounty:        "🆕 New bounty",
	models.ActivityWorkSubmitted:    "📬 Work submitted",
	models.ActivityWorkDone:         "✅ Bounty completed",
	models.ActivityKilledBounty:     "🛑 Bounty cancelled",
	models.ActivityExpiredBounty:    "⌛ Bounty expired",
	models.ActivityBountyRemarketed: "📣 Still looking for a contributor",
	models.ActivityReleasedToPublic: "🔓 Reservation released",
}

func (d *Discord) Notify(ctx context.Context, msg models.OutboxMessage) error {
	a, err := DecodeActivity(msg)
	if err != nil {
		return err
	}
	content, ok := d.format(a)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (d *Discord) format(a *models.Activity) (string, bool) {
	title, ok := announcements[a.Type]
	if !ok {
		return "", false
	}
	var snap struct {
		IssueURL string `json:"issue_url"`
		Value    string `json:"value"`
		Token    string `json:"token"`
		Status   string `json:"status"`
	}
	_ = json.Unmarshal(a.Metadata, &snap)

	var b strings.Builder
	b.WriteString("**" + title + "**")
	if snap.Value != "" {
		fmt.Fprintf(&b, " · %s %s", snap.Value, snap.Token)
	}
	if snap.IssueURL != "" {
		b.WriteString("\n" + snap.IssueURL)
	}
	if d.baseURL != "" {
		fmt.Fprintf(&b, "\n%s/bounty/%s", d.baseURL, a.BountyID)
	}
	out := b.String()
	if len(out) > maxDiscordMessageLen {
		out = out[:maxDiscordMessageLen]
	}
	return out, true
}
