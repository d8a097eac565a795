package share

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// kinberColor is the embed accent.
const kinberColor = 0x6d28d9

type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts configures a Discord target.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	Session   discordSession
}

// Discord posts links as embeds. Sending uses the REST API only, so no
// gateway connection is opened.
type Discord struct {
	sess      discordSession
	channelID string
}

// NewDiscord creates a Discord target.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("share: discord bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("share: discord channel_id is required")
	}
	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("share: discord session: %w", err)
		}
		sess = dg
	}
	return &Discord{sess: sess, channelID: opts.ChannelID}, nil
}

func (d *Discord) Name() string { return "discord" }

// Share posts link to the configured channel.
func (d *Discord) Share(ctx context.Context, link Link) error {
	embed := &discordgo.MessageEmbed{
		Title:       link.Title,
		URL:         link.URL,
		Description: "Shared from Kinber",
		Color:       kinberColor,
	}
	if _, err := d.sess.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("share: discord post: %w", err)
	}
	return nil
}
