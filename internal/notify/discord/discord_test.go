package discord

import (
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

type mockClient struct {
	channels []string
	contents []string
	err      error
}

func (m *mockClient) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.channels = append(m.channels, channelID)
	m.contents = append(m.contents, content)
	return &discordgo.Message{}, m.err
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "123"}); err == nil {
		t.Error("expected error without a token or client")
	}
	if _, err := New(Opts{BotToken: "tok"}); err == nil {
		t.Error("expected error without a channel")
	}
}

func TestSend(t *testing.T) {
	mock := &mockClient{}
	s, err := New(Opts{ChannelID: "123", Client: mock})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Send("Block A-01 in alert", "humidity spike"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mock.channels) != 1 || mock.channels[0] != "123" {
		t.Errorf("channels = %v", mock.channels)
	}
	if !strings.Contains(mock.contents[0], "Block A-01 in alert") ||
		!strings.Contains(mock.contents[0], "humidity spike") {
		t.Errorf("content = %q", mock.contents[0])
	}
}

func TestSendError(t *testing.T) {
	mock := &mockClient{err: errors.New("missing access")}
	s, _ := New(Opts{ChannelID: "123", Client: mock})
	if err := s.Send("title", "body"); err == nil {
		t.Error("expected error")
	}
}
