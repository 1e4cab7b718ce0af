package kick

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	kickchat "github.com/johanvandegriff/kick-chat-wrapper"
	"go.uber.org/zap"
)

func newTestConnector(t *testing.T, channels []ChannelConfig, handler http.HandlerFunc) *Connector {
	t.Helper()
	c := New(channels, zap.NewNop())
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		c.apiBase = srv.URL
		c.http = srv.Client()
	}
	return c
}

func TestResolveAll(t *testing.T) {
	c := newTestConnector(t, []ChannelConfig{
		{Slug: "preset", ChatroomID: 7},
		{Slug: "lookup"},
		{Slug: "missing"},
	}, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/lookup":
			w.Write([]byte(`{"id":1,"slug":"lookup","chatroom":{"id":42}}`))
		default:
			http.NotFound(w, r)
		}
	})

	if err := c.resolveAll(context.Background()); err != nil {
		t.Fatalf("resolveAll: %v", err)
	}
	if len(c.idToSlug) != 2 || c.idToSlug[7] != "preset" || c.idToSlug[42] != "lookup" {
		t.Errorf("idToSlug = %v", c.idToSlug)
	}
}

func TestResolveAllFailsWithNoChannels(t *testing.T) {
	c := newTestConnector(t, []ChannelConfig{{Slug: "gone"}}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if err := c.resolveAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveRejectsMissingChatroom(t *testing.T) {
	c := newTestConnector(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"slug":"x"}`))
	})
	if _, _, err := c.Resolve(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestConvertMessage(t *testing.T) {
	c := newTestConnector(t, []ChannelConfig{{Slug: "games", ChatroomID: 5}}, nil)
	if err := c.resolveAll(context.Background()); err != nil {
		t.Fatalf("resolveAll: %v", err)
	}

	var msg kickchat.ChatMessage
	msg.ChatroomID = 5
	msg.Content = "verify your account here"
	msg.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg.Sender.Username = "mallory"

	got, ok := c.convertMessage(msg)
	if !ok {
		t.Fatal("expected message")
	}
	if got.Platform != "kick" || got.Channel != "games" || got.Username != "mallory" ||
		got.Message != "verify your account here" || got.Timestamp != "2026-03-01T12:00:00Z" {
		t.Errorf("convertMessage = %+v", got)
	}

	msg.ChatroomID = 99
	if _, ok := c.convertMessage(msg); ok {
		t.Error("message from unknown chatroom should be dropped")
	}
}
