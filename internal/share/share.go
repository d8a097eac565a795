// Package share posts a link to a conversation into a team chat channel.
package share

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kinber/kinber/internal/config"
)

// Link identifies a shared conversation.
type Link struct {
	ThreadID string
	Title    string
	URL      string
}

// LinkFor builds the dashboard link for threadID under appURL.
func LinkFor(appURL, threadID, title string) Link {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Conversation"
	}
	return Link{
		ThreadID: threadID,
		Title:    title,
		URL:      strings.TrimRight(appURL, "/") + "/dashboard?thread_id=" + url.QueryEscape(threadID),
	}
}

// Target is a chat platform a link can be posted to.
type Target interface {
	Name() string
	Share(ctx context.Context, link Link) error
}

// Targets builds every target configured in cfg, keyed by name.
func Targets(cfg config.ShareConfig) (map[string]Target, error) {
	out := make(map[string]Target)
	if cfg.Slack.BotToken != "" {
		t, err := NewSlack(SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		out[t.Name()] = t
	}
	if cfg.Discord.BotToken != "" {
		t, err := NewDiscord(DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		out[t.Name()] = t
	}
	return out, nil
}

// Pick returns the named target, or the only configured one when name is empty.
func Pick(targets map[string]Target, name string) (Target, error) {
	if name != "" {
		t, ok := targets[name]
		if !ok {
			return nil, fmt.Errorf("share: target %q is not configured", name)
		}
		return t, nil
	}
	switch len(targets) {
	case 0:
		return nil, fmt.Errorf("share: no targets configured")
	case 1:
		for _, t := range targets {
			return t, nil
		}
	}
	return nil, fmt.Errorf("share: several targets configured, pick one of slack, discord")
}
