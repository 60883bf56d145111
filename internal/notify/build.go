package notify

import (
	"fmt"

	"github.com/zulandar/cropyard/internal/config"
	"github.com/zulandar/cropyard/internal/notify/discord"
	"github.com/zulandar/cropyard/internal/notify/slack"
)

// FromConfig builds the configured fan-out sender, or nil when no adapter
// is configured.
func FromConfig(cfg config.NotifyConfig) (Sender, error) {
	var senders []Sender

	if cfg.SlackBotToken != "" {
		s, err := slack.New(slack.Opts{
			BotToken:  cfg.SlackBotToken,
			ChannelID: cfg.SlackChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		senders = append(senders, s)
	}

	if cfg.DiscordToken != "" {
		d, err := discord.New(discord.Opts{
			BotToken:  cfg.DiscordToken,
			ChannelID: cfg.DiscordChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		senders = append(senders, d)
	}

	if len(senders) == 0 {
		return nil, nil
	}
	return NewMulti(senders...), nil
}
