// Package slack implements the notify Sender for a Slack channel.
package slack

import (
	"fmt"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Sender posts notifications to one Slack channel.
type Sender struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack sender.
type Opts struct {
	BotToken  string // xoxb-... bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack sender.
func New(opts Opts) (*Sender, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel ID is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Sender{client: client, channelID: opts.ChannelID}, nil
}

// Send posts the notification as a single message.
func (s *Sender) Send(title, body string) error {
	text := fmt.Sprintf("*%s*\n%s", title, body)
	_, _, err := s.client.PostMessage(s.channelID, slackapi.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", s.channelID, err)
	}
	return nil
}
