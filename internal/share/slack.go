package share

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
)

const maxRetries = 3

// slackClient is the subset of the Slack API used for sharing.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackOpts configures a Slack target.
type SlackOpts struct {
	BotToken  string
	ChannelID string
	Client    slackClient
}

// Slack posts links as message attachments.
type Slack struct {
	client    slackClient
	channelID string
}

// NewSlack creates a Slack target.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("share: slack bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("share: slack channel_id is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID}, nil
}

func (s *Slack) Name() string { return "slack" }

// Share posts link to the configured channel.
func (s *Slack) Share(ctx context.Context, link Link) error {
	att := slackapi.Attachment{
		Title:     link.Title,
		TitleLink: link.URL,
		Text:      "Shared from Kinber",
		Fallback:  link.Title + " " + link.URL,
	}
	opts := []slackapi.MsgOption{
		slackapi.MsgOptionText(link.Title+" "+link.URL, false),
		slackapi.MsgOptionAttachments(att),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, err := s.client.PostMessage(s.channelID, opts...)
		return err
	})
	if err != nil {
		return fmt.Errorf("share: slack post: %w", err)
	}
	return nil
}

func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
