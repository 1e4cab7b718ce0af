package badge

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/john/chatguard/internal/classifier"
	"github.com/john/chatguard/internal/dom"
	"github.com/john/chatguard/internal/metrics"
)

const (
	// ClassName is the class of every badge element
	ClassName = "phish-badge"

	// CheckedFlag marks a message node that has been given its badge
	CheckedFlag = "phish-checked"

	// DefaultDisplay is how long a badge stays on the page
	DefaultDisplay = 12 * time.Second
)

const (
	baseStyle     = "margin-left: 8px; padding: 2px 6px; border-radius: 6px; font-size: 11px; font-weight: 600; vertical-align: middle;"
	phishingStyle = " background: rgba(255, 0, 0, 0.12); color: #7a0303;"
	neutralStyle  = " background: rgba(0, 128, 0, 0.08); color: #083b09;"
)

// Renderer attaches self-expiring result badges to message nodes
type Renderer struct {
	doc     *dom.Document
	display time.Duration
	logger  *zap.Logger
}

// NewRenderer creates a renderer for doc. A zero display uses DefaultDisplay.
func NewRenderer(doc *dom.Document, display time.Duration, logger *zap.Logger) *Renderer {
	if display <= 0 {
		display = DefaultDisplay
	}
	return &Renderer{
		doc:     doc,
		display: display,
		logger:  logger,
	}
}

// Annotate attaches a badge for res to node. It reports false without
// touching the page when node or res is nil or node already has its badge.
func (r *Renderer) Annotate(node *html.Node, res *classifier.Result) bool {
	if node == nil || res == nil {
		return false
	}
	// The flag goes on before the badge so a concurrent caller loses here.
	if !r.doc.TestAndSetFlag(node, CheckedFlag) {
		return false
	}

	b := Build(res)
	r.doc.AppendChild(node, b)
	metrics.BadgesAttached.WithLabelValues(labelOrUnknown(res.Label)).Inc()

	time.AfterFunc(r.display, func() {
		r.doc.Remove(b)
	})

	r.logger.Debug("Badge attached", zap.String("label", res.Label), zap.Float64("score", res.Score))
	return true
}

// Build creates a detached badge element for res
func Build(res *classifier.Result) *html.Node {
	style := baseStyle + neutralStyle
	if res.Label == classifier.LabelPhishing {
		style = baseStyle + phishingStyle
	}

	span := dom.Element("span",
		dom.Attr("class", ClassName),
		dom.Attr("style", style),
	)
	span.AppendChild(dom.TextNode(Text(res)))
	return span
}

// Text renders the badge caption: "label (NN%)", or "unknown" with no
// percentage when the label is empty.
func Text(res *classifier.Result) string {
	if res.Label == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s (%d%%)", res.Label, Percent(res.Score))
}

// Percent converts a score in [0,1] to a whole percentage, rounding half up
func Percent(score float64) int {
	return int(math.Round(score * 100))
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
