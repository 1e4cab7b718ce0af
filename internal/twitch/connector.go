package twitch

import (
	"context"
	"strings"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/message"
)

// Connector feeds Twitch channel chat into the pipeline
type Connector struct {
	username string
	oauth    string
	channels []string
	client   *twitch.Client
	logger   *zap.Logger
}

// New creates a new Twitch connector
func New(username, oauth string, channels []string, logger *zap.Logger) *Connector {
	return &Connector{
		username: username,
		oauth:    oauth,
		channels: channels,
		logger:   logger,
	}
}

// Start joins the channels and delivers chat until ctx is cancelled
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	c.client = twitch.NewClient(c.username, c.oauth)

	c.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		select {
		case messageChan <- convert(msg):
		case <-ctx.Done():
		}
	})

	c.client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		if msg.SystemMsg == "" {
			return
		}
		select {
		case messageChan <- convertNotice(msg):
		case <-ctx.Done():
		}
	})

	c.client.OnConnect(func() {
		c.logger.Info("Connected to Twitch IRC")
	})

	c.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		c.logger.Info("Reconnecting to Twitch IRC...")
	})

	for _, channel := range c.channels {
		c.client.Join(channel)
		c.logger.Info("Joined channel", zap.String("channel", channel))
	}

	go func() {
		if err := c.client.Connect(); err != nil && ctx.Err() == nil {
			c.logger.Error("Twitch IRC connection error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	c.logger.Info("Disconnecting from Twitch IRC...")
	c.client.Disconnect()

	return ctx.Err()
}

func convert(msg twitch.PrivateMessage) message.Message {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	return message.Message{
		Platform:  "twitch",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Channel:   strings.TrimPrefix(msg.Channel, "#"),
		Username:  name,
		Message:   msg.Message,
	}
}

// convertNotice keeps the system text of subs, raids and announcements
func convertNotice(msg twitch.UserNoticeMessage) message.Message {
	return message.Message{
		Platform:  "twitch",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Channel:   strings.TrimPrefix(msg.Channel, "#"),
		Message:   msg.SystemMsg,
		System:    true,
	}
}
