package badge

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/john/chatguard/internal/classifier"
	"github.com/john/chatguard/internal/dom"
)

func newPage(t *testing.T) (*dom.Document, *html.Node) {
	t.Helper()
	doc, err := dom.Parse(strings.NewReader(`<html><body><div id="chatBox"><p>hello world</p></div></body></html>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc, doc.QueryOne("#chatBox > p")
}

func badgeCount(doc *dom.Document, node *html.Node) int {
	n := 0
	for _, c := range doc.Children(node) {
		if v, _ := doc.Attr(c, "class"); v == ClassName {
			n++
		}
	}
	return n
}

func TestAnnotateIsIdempotent(t *testing.T) {
	doc, p := newPage(t)
	r := NewRenderer(doc, time.Minute, zap.NewNop())
	res := &classifier.Result{Label: "safe", Score: 0.2}

	if !r.Annotate(p, res) {
		t.Fatal("first Annotate should attach")
	}
	for i := 0; i < 3; i++ {
		if r.Annotate(p, res) {
			t.Fatalf("repeat Annotate %d attached again", i)
		}
	}
	if n := badgeCount(doc, p); n != 1 {
		t.Errorf("expected exactly one badge, got %d", n)
	}
	if !doc.HasFlag(p, CheckedFlag) {
		t.Error("annotation flag not set")
	}
}

func TestAnnotateConcurrentCallers(t *testing.T) {
	doc, p := newPage(t)
	r := NewRenderer(doc, time.Minute, zap.NewNop())
	res := &classifier.Result{Label: classifier.LabelPhishing, Score: 0.9}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Annotate(p, res)
		}()
	}
	wg.Wait()

	if n := badgeCount(doc, p); n != 1 {
		t.Errorf("expected exactly one badge, got %d", n)
	}
}

func TestAnnotateNilArguments(t *testing.T) {
	doc, p := newPage(t)
	r := NewRenderer(doc, time.Minute, zap.NewNop())

	if r.Annotate(nil, &classifier.Result{Label: "safe"}) {
		t.Error("nil node should be a no-op")
	}
	if r.Annotate(p, nil) {
		t.Error("nil result should be a no-op")
	}
	if doc.HasFlag(p, CheckedFlag) {
		t.Error("no-op must not set the flag")
	}
}

func TestBuildStyles(t *testing.T) {
	tests := []struct {
		res      classifier.Result
		wantText string
		wantBg   string
	}{
		{classifier.Result{Label: "phishing", Score: 0.873}, "phishing (87%)", "rgba(255, 0, 0, 0.12)"},
		{classifier.Result{Label: "safe", Score: 0.876}, "safe (88%)", "rgba(0, 128, 0, 0.08)"},
		{classifier.Result{Label: "spam", Score: 1}, "spam (100%)", "rgba(0, 128, 0, 0.08)"},
		{classifier.Result{Label: "", Score: 0.99}, "unknown", "rgba(0, 128, 0, 0.08)"},
	}

	for _, tt := range tests {
		b := Build(&tt.res)
		if b.FirstChild == nil || b.FirstChild.Data != tt.wantText {
			t.Errorf("%+v: text = %v, want %q", tt.res, b.FirstChild, tt.wantText)
		}
		var style, class string
		for _, a := range b.Attr {
			switch a.Key {
			case "style":
				style = a.Val
			case "class":
				class = a.Val
			}
		}
		if class != ClassName {
			t.Errorf("class = %q", class)
		}
		if !strings.Contains(style, "background: "+tt.wantBg) {
			t.Errorf("%+v: style %q missing background %s", tt.res, style, tt.wantBg)
		}
		if !strings.HasPrefix(style, "margin-left: 8px;") {
			t.Errorf("style %q missing base rules", style)
		}
	}
}

func TestPercentRounds(t *testing.T) {
	tests := map[float64]int{
		0.873: 87,
		0.876: 88,
		0.005: 1,
		0:     0,
		1:     100,
	}
	for score, want := range tests {
		if got := Percent(score); got != want {
			t.Errorf("Percent(%v) = %d, want %d", score, got, want)
		}
	}
}

func TestBadgeExpires(t *testing.T) {
	doc, p := newPage(t)
	r := NewRenderer(doc, 20*time.Millisecond, zap.NewNop())

	r.Annotate(p, &classifier.Result{Label: "safe", Score: 0.5})
	if badgeCount(doc, p) != 1 {
		t.Fatal("badge not attached")
	}

	deadline := time.Now().Add(2 * time.Second)
	for badgeCount(doc, p) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("badge never removed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The flag outlives the badge.
	if !doc.HasFlag(p, CheckedFlag) {
		t.Error("flag cleared with the badge")
	}
	if r.Annotate(p, &classifier.Result{Label: "safe", Score: 0.5}) {
		t.Error("node re-annotated after badge expired")
	}
}
