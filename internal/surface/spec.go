package surface

import (
	"sort"
	"strings"
)

// Spec describes how to read one chat surface's markup
type Spec struct {
	Name string

	// ContainerSelector finds the root element holding the surface's messages
	ContainerSelector string

	// ScanSelector finds every message node for the initial scan
	ScanSelector string

	// NodeSelector decides whether an added node is itself a message node
	NodeSelector string

	// DescendantSelector, when set, is searched inside an added node that
	// did not match NodeSelector. Surfaces that wrap each message in an
	// outer element need it; surfaces that add message nodes directly
	// leave it empty.
	DescendantSelector string

	// Extract turns a message node's visible text into the dedup key and
	// classifier input. An empty result drops the message.
	Extract func(text string) string
}

const (
	HangmanName = "hangman"
	SkribblName = "skribbl"
)

// Hangman is the relay game's chat: one <p> per line inside #chatBox,
// classified with the speaker prefix left in place.
func Hangman() Spec {
	return Spec{
		Name:              HangmanName,
		ContainerSelector: "#chatBox",
		ScanSelector:      "#chatBox > p",
		NodeSelector:      "p",
		Extract:           strings.TrimSpace,
	}
}

// Skribbl is skribbl.io's chat: "name: text" in a span inside a <p>
func Skribbl() Spec {
	return Spec{
		Name:               SkribblName,
		ContainerSelector:  "#game-chat > div.chat-content",
		ScanSelector:       "#game-chat > div.chat-content > p > span",
		NodeSelector:       "p > span",
		DescendantSelector: "span",
		Extract:            StripSpeaker,
	}
}

// StripSpeaker drops everything up to and including the first colon, then
// trims. Text without a colon is only trimmed.
func StripSpeaker(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, ":"); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return text
}

var builtin = map[string]func() Spec{
	HangmanName: Hangman,
	SkribblName: Skribbl,
}

// Lookup returns the built-in surface called name
func Lookup(name string) (Spec, bool) {
	fn, ok := builtin[name]
	if !ok {
		return Spec{}, false
	}
	return fn(), true
}

// Names lists the built-in surfaces
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every built-in surface, ordered by name
func All() []Spec {
	var specs []Spec
	for _, name := range Names() {
		specs = append(specs, builtin[name]())
	}
	return specs
}
