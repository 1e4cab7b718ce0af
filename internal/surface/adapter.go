package surface

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/john/chatguard/internal/dom"
	"github.com/john/chatguard/internal/ledger"
	"github.com/john/chatguard/internal/metrics"
)

// Adapter bridges one surface's markup on a page to the dispatcher. Each
// adapter owns the dedup ledger for its surface.
type Adapter struct {
	spec       Spec
	doc        *dom.Document
	ledger     *ledger.Ledger
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu       sync.Mutex
	observer *dom.Observer
}

// NewAdapter creates an adapter for spec on doc with a fresh ledger
func NewAdapter(spec Spec, doc *dom.Document, dispatcher *Dispatcher, logger *zap.Logger) *Adapter {
	return &Adapter{
		spec:       spec,
		doc:        doc,
		ledger:     ledger.New(),
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("surface", spec.Name)),
	}
}

// Name returns the surface name
func (a *Adapter) Name() string {
	return a.spec.Name
}

// Ledger exposes the adapter's dedup ledger
func (a *Adapter) Ledger() *ledger.Ledger {
	return a.ledger
}

// ContainerPresent reports whether the surface's container is on the page
func (a *Adapter) ContainerPresent() bool {
	return a.doc.QueryOne(a.spec.ContainerSelector) != nil
}

// Observe watches the container's subtree for new message nodes. It
// returns false, doing nothing, when the container is not on the page.
func (a *Adapter) Observe() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.observer != nil {
		return true
	}

	container := a.doc.QueryOne(a.spec.ContainerSelector)
	if container == nil {
		return false
	}

	a.observer = a.doc.Observe(container, a.handleMutations)
	a.logger.Info("Observer set up")
	return true
}

// ScanExisting feeds every message node currently on the page through the
// pipeline, in document order. It returns the number of messages handed to
// the dispatcher.
func (a *Adapter) ScanExisting() int {
	submitted := 0
	for _, node := range a.doc.Query(a.spec.ScanSelector) {
		if a.process(node) {
			submitted++
		}
	}
	a.logger.Debug("Initial scan complete", zap.Int("submitted", submitted))
	return submitted
}

// Close stops observing the page
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.observer != nil {
		a.observer.Disconnect()
		a.observer = nil
	}
}

func (a *Adapter) handleMutations(records []dom.MutationRecord) {
	for _, rec := range records {
		for _, node := range rec.Added {
			if node.Type != html.ElementNode {
				continue
			}
			if msg := a.resolve(node); msg != nil {
				a.process(msg)
			}
		}
	}
}

// resolve picks the message node for an added node: the node itself when
// it matches, otherwise (for surfaces that allow it) its first matching
// descendant.
func (a *Adapter) resolve(node *html.Node) *html.Node {
	if a.doc.Matches(node, a.spec.NodeSelector) {
		return node
	}
	if a.spec.DescendantSelector == "" {
		return nil
	}
	return a.doc.FindWithin(node, a.spec.DescendantSelector)
}

// process runs extraction and the ledger gate synchronously, then hands the
// message to the dispatcher.
func (a *Adapter) process(node *html.Node) bool {
	text := a.spec.Extract(a.doc.Text(node))
	if text == "" {
		metrics.MessagesSkipped.WithLabelValues(a.spec.Name, "empty").Inc()
		return false
	}
	if !a.ledger.ShouldProcess(text) {
		metrics.MessagesSkipped.WithLabelValues(a.spec.Name, "duplicate").Inc()
		return false
	}

	metrics.MessagesDiscovered.WithLabelValues(a.spec.Name).Inc()
	metrics.LedgerEntries.WithLabelValues(a.dispatcher.page, a.spec.Name).Set(float64(a.ledger.Len()))
	return a.dispatcher.Submit(Task{Surface: a.spec.Name, Node: node, Text: text})
}
