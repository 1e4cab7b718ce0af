package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/message"
)

const maxBackoff = 30 * time.Second

// Client joins a relay room as a player and delivers the room's chat as
// messages, reconnecting with backoff when the connection drops.
type Client struct {
	url    string
	name   string
	room   string
	logger *zap.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a relay client for url (ws:// or wss://)
func NewClient(url, name, room string, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		name:   name,
		room:   room,
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// Start connects and forwards chat until ctx is cancelled
func (c *Client) Start(ctx context.Context, messageChan chan<- message.Message) error {
	for attempt := 0; ; attempt++ {
		err := c.session(ctx, messageChan)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := time.Duration(1<<uint(min(attempt, 5))) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		c.logger.Warn("Relay connection lost, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send posts a chat line to the room
func (c *Client) Send(msg string) error {
	return c.write(EventChatMessage, ChatIn{Msg: msg})
}

// Guess posts a letter guess to the room
func (c *Client) Guess(letter string) error {
	return c.write(EventGuessLetter, GuessLetter{Letter: letter})
}

func (c *Client) write(event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// session runs one connection until it fails or ctx is cancelled
func (c *Client) session(ctx context.Context, messageChan chan<- message.Message) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := c.write(EventJoinRoom, JoinRoom{Name: c.name, Room: c.room}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	c.logger.Info("Joined relay room", zap.String("room", c.room), zap.String("name", c.name))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f, err := Decode(data)
		if err != nil {
			c.logger.Debug("Dropping malformed frame", zap.Error(err))
			continue
		}

		msg, ok, err := c.convert(f)
		if err != nil {
			c.logger.Debug("Dropping frame", zap.String("event", f.Event), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		select {
		case messageChan <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// convert turns chat-bearing frames into messages; other events are only logged
func (c *Client) convert(f Frame) (message.Message, bool, error) {
	msg := message.Message{
		Platform:  "relay",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Channel:   c.room,
	}

	switch f.Event {
	case EventSystemMessage:
		var text string
		if err := json.Unmarshal(f.Data, &text); err != nil {
			return msg, false, err
		}
		msg.Message = text
		msg.System = true
		return msg, true, nil

	case EventChatMessage:
		var out ChatOut
		if err := json.Unmarshal(f.Data, &out); err != nil {
			return msg, false, err
		}
		msg.Username = out.Name
		msg.Message = out.Msg
		return msg, true, nil

	case EventUpdatePlayers:
		var players []string
		if err := json.Unmarshal(f.Data, &players); err != nil {
			return msg, false, err
		}
		c.logger.Debug("Players updated", zap.Strings("players", players))

	case EventUpdateGame:
		var state GameState
		if err := json.Unmarshal(f.Data, &state); err != nil {
			return msg, false, err
		}
		c.logger.Debug("Game updated",
			zap.Int("wrong_guesses", state.WrongGuesses),
			zap.Strings("guessed", state.GuessedLetters))
	}
	return msg, false, nil
}
