// Package discord implements the notify Sender for a Discord channel.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordClient abstracts the discordgo methods we use, enabling test mocks.
type discordClient interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sender posts notifications to one Discord channel.
type Sender struct {
	client    discordClient
	channelID string
}

// Opts holds parameters for creating a Discord sender.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock client instead of a real session.
	Client discordClient
}

// New creates a Discord sender.
func New(opts Opts) (*Sender, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel ID is required")
	}
	client := opts.Client
	if client == nil {
		session, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		client = session
	}
	return &Sender{client: client, channelID: opts.ChannelID}, nil
}

// Send posts the notification as a single message.
func (s *Sender) Send(title, body string) error {
	content := fmt.Sprintf("**%s**\n%s", title, body)
	if _, err := s.client.ChannelMessageSend(s.channelID, content); err != nil {
		return fmt.Errorf("discord: post to %s: %w", s.channelID, err)
	}
	return nil
}
