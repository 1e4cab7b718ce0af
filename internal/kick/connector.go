package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/message"
)

const defaultAPIBase = "https://kick.com/api/v2"

// channelResponse is the part of Kick's channel API response we read
type channelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// ChannelConfig is a Kick channel with an optional pre-resolved chatroom ID
type ChannelConfig struct {
	Slug       string
	ChatroomID int // 0 resolves through the API
}

// Connector feeds Kick chatroom messages into the pipeline
type Connector struct {
	channels []ChannelConfig
	idToSlug map[int]string
	apiBase  string
	http     *http.Client
	client   *kickchat.Client
	logger   *zap.Logger
}

// New creates a new Kick connector
func New(channels []ChannelConfig, logger *zap.Logger) *Connector {
	return &Connector{
		channels: channels,
		idToSlug: make(map[int]string),
		apiBase:  defaultAPIBase,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Start resolves chatrooms, joins them and delivers chat until ctx is cancelled
func (c *Connector) Start(ctx context.Context, messageChan chan<- message.Message) error {
	if err := c.resolveAll(ctx); err != nil {
		return err
	}

	client, err := kickchat.NewClient()
	if err != nil {
		return fmt.Errorf("create Kick client: %w", err)
	}
	c.client = client
	c.logger.Info("Connected to Kick WebSocket")

	for chatroomID, slug := range c.idToSlug {
		if err := c.client.JoinChannelByID(chatroomID); err != nil {
			c.logger.Warn("Failed to join Kick channel",
				zap.String("channel", slug), zap.Int("chatroom_id", chatroomID), zap.Error(err))
			continue
		}
		c.logger.Info("Joined Kick channel", zap.String("channel", slug))
	}

	messages := c.client.ListenForMessages()

	go func() {
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					c.logger.Info("Kick message channel closed")
					return
				}
				chatMessage, ok := c.convertMessage(msg)
				if !ok {
					continue
				}
				select {
				case messageChan <- chatMessage:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()

	c.logger.Info("Disconnecting from Kick chat...")
	c.client.Close()

	return ctx.Err()
}

// resolveAll fills idToSlug, skipping channels that cannot be resolved
func (c *Connector) resolveAll(ctx context.Context) error {
	for _, channel := range c.channels {
		if channel.ChatroomID > 0 {
			c.idToSlug[channel.ChatroomID] = channel.Slug
			c.logger.Info("Using pre-configured Kick channel",
				zap.String("channel", channel.Slug), zap.Int("chatroom_id", channel.ChatroomID))
			continue
		}

		chatroomID, slug, err := c.Resolve(ctx, channel.Slug)
		if err != nil {
			c.logger.Warn("Failed to resolve Kick channel, skipping",
				zap.String("channel", channel.Slug), zap.Error(err))
			continue
		}
		c.idToSlug[chatroomID] = slug
		c.logger.Info("Resolved Kick channel", zap.String("channel", slug), zap.Int("chatroom_id", chatroomID))
	}

	if len(c.idToSlug) == 0 {
		return fmt.Errorf("no valid Kick channels could be resolved")
	}
	return nil
}

// Resolve looks up a channel's chatroom ID through Kick's API
func (c *Connector) Resolve(ctx context.Context, slug string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/channels/"+slug, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}

	// Kick's CDN rejects requests that do not look like a browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var info channelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, "", fmt.Errorf("decode channel: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return 0, "", fmt.Errorf("channel %q has no chatroom", slug)
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	return info.Chatroom.ID, info.Slug, nil
}

func (c *Connector) convertMessage(msg kickchat.ChatMessage) (message.Message, bool) {
	slug, ok := c.idToSlug[msg.ChatroomID]
	if !ok {
		c.logger.Debug("Message from unknown chatroom", zap.Int("chatroom_id", msg.ChatroomID))
		return message.Message{}, false
	}

	return message.Message{
		Platform:  "kick",
		Timestamp: msg.CreatedAt.Format(time.RFC3339),
		Channel:   slug,
		Username:  msg.Sender.Username,
		Message:   msg.Content,
	}, true
}
