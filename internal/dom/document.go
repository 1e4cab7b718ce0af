package dom

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const blankPage = "<html><head></head><body></body></html>"

// MutationRecord describes one structural change under Target
type MutationRecord struct {
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
}

// ObserverFunc receives the records of one mutation batch
type ObserverFunc func(records []MutationRecord)

// Observer watches a subtree of a Document for child additions and removals
type Observer struct {
	id     uint64
	doc    *Document
	target *html.Node
	fn     ObserverFunc
}

// Disconnect stops delivery of further records
func (o *Observer) Disconnect() {
	o.doc.obsMu.Lock()
	defer o.doc.obsMu.Unlock()
	delete(o.doc.observers, o.id)
}

// Document is a mutable HTML page shared between the goroutines that write
// chat lines into it and the pipeline that reads and annotates them.
//
// Every read and write goes through the document lock. Observer callbacks
// run synchronously in the mutating goroutine once the lock is released,
// so callbacks are free to query the document again.
type Document struct {
	mu   sync.RWMutex
	root *html.Node

	obsMu     sync.Mutex
	observers map[uint64]*Observer
	nextID    uint64
}

// New creates an empty page with a head and a body
func New() *Document {
	doc, err := Parse(strings.NewReader(blankPage))
	if err != nil {
		// blankPage is a constant and always parses
		panic(err)
	}
	return doc
}

// Parse builds a Document from HTML source
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{
		root:      root,
		observers: make(map[uint64]*Observer),
	}, nil
}

// Body returns the body element
func (d *Document) Body() *html.Node {
	return d.QueryOne("body")
}

// Query returns every element matching selector, in document order
func (d *Document) Query(selector string) []*html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	nodes := goquery.NewDocumentFromNode(d.root).Find(selector).Nodes
	out := make([]*html.Node, len(nodes))
	copy(out, nodes)
	return out
}

// QueryOne returns the first element matching selector, or nil
func (d *Document) QueryOne(selector string) *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sel := goquery.NewDocumentFromNode(d.root).Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}

// Matches reports whether node itself matches selector. Combinators are
// evaluated against the node's real ancestors.
func (d *Document) Matches(node *html.Node, selector string) bool {
	if node == nil || node.Type != html.ElementNode {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	return goquery.NewDocumentFromNode(node).Is(selector)
}

// FindWithin returns the first descendant of node matching selector, or nil
func (d *Document) FindWithin(node *html.Node, selector string) *html.Node {
	if node == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	sel := goquery.NewDocumentFromNode(node).Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	return sel.Nodes[0]
}

// Text returns the concatenated text content of node
func (d *Document) Text(node *html.Node) string {
	if node == nil {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	return goquery.NewDocumentFromNode(node).Text()
}

// Children returns the element children of node
func (d *Document) Children(node *html.Node) []*html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*html.Node
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Attr returns the value of attribute key on node
func (d *Document) Attr(node *html.Node, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return attr(node, key)
}

// Connected reports whether node is still attached to the page
func (d *Document) Connected(node *html.Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return contains(d.root, node)
}

// TestAndSetFlag sets the data-<name> marker on node and reports whether
// this call was the one that set it.
func (d *Document) TestAndSetFlag(node *html.Node, name string) bool {
	if node == nil {
		return false
	}
	key := "data-" + name

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := attr(node, key); ok {
		return false
	}
	node.Attr = append(node.Attr, html.Attribute{Key: key, Val: "true"})
	return true
}

// HasFlag reports whether the data-<name> marker is set on node
func (d *Document) HasFlag(node *html.Node, name string) bool {
	_, ok := d.Attr(node, "data-"+name)
	return ok
}

// AppendChild attaches child as the last child of parent
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	d.mu.Unlock()

	d.notify(MutationRecord{Target: parent, Added: []*html.Node{child}})
}

// AppendHTML parses fragment in the context of parent and appends the
// resulting nodes as one mutation batch.
func (d *Document) AppendHTML(parent *html.Node, fragment string) ([]*html.Node, error) {
	d.mu.RLock()
	context := &html.Node{
		Type:      html.ElementNode,
		Data:      parent.Data,
		DataAtom:  parent.DataAtom,
		Namespace: parent.Namespace,
	}
	d.mu.RUnlock()

	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.mu.Unlock()

	d.notify(MutationRecord{Target: parent, Added: nodes})
	return nodes, nil
}

// Remove detaches node from its parent. It reports false when the node was
// already detached.
func (d *Document) Remove(node *html.Node) bool {
	d.mu.Lock()
	parent := node.Parent
	if parent == nil {
		d.mu.Unlock()
		return false
	}
	parent.RemoveChild(node)
	d.mu.Unlock()

	d.notify(MutationRecord{Target: parent, Removed: []*html.Node{node}})
	return true
}

// Observe installs fn for child list changes anywhere in target's subtree
func (d *Document) Observe(target *html.Node, fn ObserverFunc) *Observer {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()

	d.nextID++
	o := &Observer{id: d.nextID, doc: d, target: target, fn: fn}
	d.observers[o.id] = o
	return o
}

// notify delivers rec to every observer whose subtree contains its target
func (d *Document) notify(rec MutationRecord) {
	d.obsMu.Lock()
	candidates := make([]*Observer, 0, len(d.observers))
	for _, o := range d.observers {
		candidates = append(candidates, o)
	}
	d.obsMu.Unlock()

	if len(candidates) == 0 {
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	d.mu.RLock()
	var matched []*Observer
	for _, o := range candidates {
		if contains(o.target, rec.Target) {
			matched = append(matched, o)
		}
	}
	d.mu.RUnlock()

	for _, o := range matched {
		o.fn([]MutationRecord{rec})
	}
}

func attr(node *html.Node, key string) (string, bool) {
	for _, a := range node.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// contains reports whether node is ancestor itself or one of its descendants
func contains(ancestor, node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}
