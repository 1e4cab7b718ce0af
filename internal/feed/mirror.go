package feed

import (
	"context"
	"fmt"
	"html"
	"sync"

	"go.uber.org/zap"
	xhtml "golang.org/x/net/html"

	"github.com/john/chatguard/internal/dom"
	"github.com/john/chatguard/internal/message"
	"github.com/john/chatguard/internal/surface"
)

// Source delivers chat lines until ctx is cancelled
type Source interface {
	Start(ctx context.Context, messageChan chan<- message.Message) error
}

// skeletons are the container markup each surface's page carries
var skeletons = map[string]string{
	surface.HangmanName: `<div id="game"><div id="chatBox"></div></div>`,
	surface.SkribblName: `<div id="game-chat"><div class="chat-content"></div></div>`,
}

// Mirror renders chat lines into a page using one surface's markup, the
// way the game's own client script would.
type Mirror struct {
	doc    *dom.Document
	spec   surface.Spec
	logger *zap.Logger

	mu        sync.Mutex
	container *xhtml.Node
}

// NewMirror creates a mirror writing surfaceName markup into doc
func NewMirror(doc *dom.Document, surfaceName string, logger *zap.Logger) (*Mirror, error) {
	spec, ok := surface.Lookup(surfaceName)
	if !ok {
		return nil, fmt.Errorf("unknown surface %q", surfaceName)
	}
	return &Mirror{
		doc:    doc,
		spec:   spec,
		logger: logger,
	}, nil
}

// Mount adds the surface's chat container to the page once
func (m *Mirror) Mount() (*xhtml.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.container != nil {
		return m.container, nil
	}
	if existing := m.doc.QueryOne(m.spec.ContainerSelector); existing != nil {
		m.container = existing
		return existing, nil
	}

	if _, err := m.doc.AppendHTML(m.doc.Body(), skeletons[m.spec.Name]); err != nil {
		return nil, fmt.Errorf("mount %s container: %w", m.spec.Name, err)
	}
	m.container = m.doc.QueryOne(m.spec.ContainerSelector)
	if m.container == nil {
		return nil, fmt.Errorf("mounted %s skeleton has no container", m.spec.Name)
	}
	return m.container, nil
}

// Render appends one chat line
func (m *Mirror) Render(msg message.Message) error {
	container, err := m.Mount()
	if err != nil {
		return err
	}
	_, err = m.doc.AppendHTML(container, Markup(m.spec.Name, msg))
	return err
}

// Start mounts the container, then renders lines until ctx is cancelled
func (m *Mirror) Start(ctx context.Context, messageChan <-chan message.Message) error {
	if _, err := m.Mount(); err != nil {
		return err
	}

	for {
		select {
		case msg := <-messageChan:
			if err := m.Render(msg); err != nil {
				m.logger.Warn("Error rendering chat line", zap.Error(err))
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Markup returns the HTML for one chat line on the named surface
func Markup(surfaceName string, msg message.Message) string {
	text := html.EscapeString(msg.Message)
	name := html.EscapeString(msg.Username)

	switch surfaceName {
	case surface.HangmanName:
		switch {
		case msg.System:
			return `<p style="font-style: italic">` + text + `</p>`
		case name != "":
			return `<p><strong>` + name + `:</strong> ` + text + `</p>`
		default:
			return `<p>` + text + `</p>`
		}
	default:
		if name != "" && !msg.System {
			return `<p><span>` + name + `: ` + text + `</span></p>`
		}
		return `<p><span>` + text + `</span></p>`
	}
}
