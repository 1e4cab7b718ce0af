package dom

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const chatPage = `<html><body>
<div id="game-chat"><div class="chat-content">
<p><span>alice: hi there</span></p>
<p><span>bob: hello</span></p>
</div></div>
</body></html>`

func mustParse(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func TestQueryReturnsDocumentOrder(t *testing.T) {
	doc := mustParse(t, chatPage)

	spans := doc.Query("#game-chat > div.chat-content > p > span")
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if got := doc.Text(spans[0]); got != "alice: hi there" {
		t.Errorf("first span text = %q", got)
	}
	if got := doc.Text(spans[1]); got != "bob: hello" {
		t.Errorf("second span text = %q", got)
	}
	if doc.QueryOne("#chatBox") != nil {
		t.Error("expected no #chatBox")
	}
}

func TestMatchesUsesAncestors(t *testing.T) {
	doc := mustParse(t, chatPage)
	span := doc.QueryOne("span")

	if !doc.Matches(span, "p > span") {
		t.Error("span inside p should match p > span")
	}
	if doc.Matches(span, "div > span") {
		t.Error("span is not a direct child of div")
	}
	if doc.Matches(span.FirstChild, "span") {
		t.Error("text nodes never match")
	}
}

func TestFindWithinSearchesDescendantsOnly(t *testing.T) {
	doc := mustParse(t, chatPage)
	p := doc.QueryOne("p")

	if got := doc.FindWithin(p, "span"); got == nil || doc.Text(got) != "alice: hi there" {
		t.Fatalf("FindWithin(p, span) = %v", got)
	}
	span := doc.QueryOne("span")
	if got := doc.FindWithin(span, "span"); got != nil {
		t.Error("FindWithin must not return the node itself")
	}
}

func TestTestAndSetFlag(t *testing.T) {
	doc := mustParse(t, chatPage)
	span := doc.QueryOne("span")

	if doc.HasFlag(span, "phish-checked") {
		t.Fatal("flag should start unset")
	}
	if !doc.TestAndSetFlag(span, "phish-checked") {
		t.Fatal("first set should win")
	}
	if doc.TestAndSetFlag(span, "phish-checked") {
		t.Fatal("second set should lose")
	}
	if v, ok := doc.Attr(span, "data-phish-checked"); !ok || v != "true" {
		t.Errorf("attribute = %q, %v", v, ok)
	}
}

func TestObserveSubtreeAdditions(t *testing.T) {
	doc := mustParse(t, chatPage)
	container := doc.QueryOne("div.chat-content")

	var added []*html.Node
	obs := doc.Observe(container, func(records []MutationRecord) {
		for _, r := range records {
			added = append(added, r.Added...)
		}
	})

	// Nested addition inside an existing message still reaches the observer.
	span := doc.QueryOne("span")
	doc.AppendChild(span, Element("b"))

	// Additions outside the container do not.
	doc.AppendChild(doc.Body(), Element("footer"))

	nodes, err := doc.AppendHTML(container, `<p><span>carol: new</span></p>`)
	if err != nil {
		t.Fatalf("AppendHTML: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected one fragment root, got %d", len(nodes))
	}

	if len(added) != 2 {
		t.Fatalf("expected 2 additions, got %d", len(added))
	}
	if added[0].Data != "b" || added[1].Data != "p" {
		t.Errorf("unexpected additions: %s, %s", added[0].Data, added[1].Data)
	}

	obs.Disconnect()
	doc.AppendChild(container, Element("p"))
	if len(added) != 2 {
		t.Error("disconnected observer still received records")
	}
}

func TestRemove(t *testing.T) {
	doc := mustParse(t, chatPage)
	container := doc.QueryOne("div.chat-content")

	var removed int
	doc.Observe(container, func(records []MutationRecord) {
		for _, r := range records {
			removed += len(r.Removed)
		}
	})

	p := doc.QueryOne("p")
	if !doc.Remove(p) {
		t.Fatal("Remove should report true for an attached node")
	}
	if doc.Remove(p) {
		t.Fatal("Remove should report false for a detached node")
	}
	if doc.Connected(p) {
		t.Error("removed node still connected")
	}
	if removed != 1 {
		t.Errorf("expected 1 removal record, got %d", removed)
	}
	if n := len(doc.Query("p")); n != 1 {
		t.Errorf("expected 1 paragraph left, got %d", n)
	}
}
