package bootstrap

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatguard/internal/badge"
	"github.com/john/chatguard/internal/classifier"
	"github.com/john/chatguard/internal/dom"
	"github.com/john/chatguard/internal/surface"
)

// fakeSurface records the order of calls made on it
type fakeSurface struct {
	name    string
	present bool
	calls   []string
}

func (f *fakeSurface) Name() string           { return f.name }
func (f *fakeSurface) ContainerPresent() bool { return f.present }
func (f *fakeSurface) Observe() bool {
	f.calls = append(f.calls, "observe")
	return f.present
}
func (f *fakeSurface) ScanExisting() int {
	f.calls = append(f.calls, "scan")
	return 0
}

type recordingClassifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingClassifier) Classify(_ context.Context, text string) *classifier.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return &classifier.Result{Label: "safe", Score: 0.1}
}

func TestObserveBeforeScan(t *testing.T) {
	s := &fakeSurface{name: "hangman", present: true}
	sup := New("page", []Surface{s}, time.Millisecond, 20, zap.NewNop())

	if got := sup.Step(); got != Activated {
		t.Fatalf("state = %s", got)
	}
	if strings.Join(s.calls, ",") != "observe,scan" {
		t.Errorf("calls = %v", s.calls)
	}
}

func TestActivatesEverySurfacePresentOnSameAttempt(t *testing.T) {
	hangman := &fakeSurface{name: "hangman", present: true}
	skribbl := &fakeSurface{name: "skribbl", present: true}
	sup := New("page", []Surface{hangman, skribbl}, time.Millisecond, 20, zap.NewNop())

	sup.Step()
	st := sup.Status()
	if st.State != "activated" || len(st.Active) != 2 {
		t.Errorf("status = %+v", st)
	}
}

// blockingSurface holds ScanExisting until release is closed
type blockingSurface struct {
	scanning chan struct{}
	release  chan struct{}
}

func (b *blockingSurface) Name() string           { return "hangman" }
func (b *blockingSurface) ContainerPresent() bool { return true }
func (b *blockingSurface) Observe() bool          { return true }
func (b *blockingSurface) ScanExisting() int {
	close(b.scanning)
	<-b.release
	return 0
}

func TestStatusDoesNotWaitOnScan(t *testing.T) {
	b := &blockingSurface{scanning: make(chan struct{}), release: make(chan struct{})}
	sup := New("page", []Surface{b}, time.Millisecond, 20, zap.NewNop())

	stepped := make(chan State)
	go func() { stepped <- sup.Step() }()
	<-b.scanning

	got := make(chan Status)
	go func() { got <- sup.Status() }()
	select {
	case st := <-got:
		if st.State != "polling" || st.Attempts != 0 {
			t.Errorf("status during scan = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a running scan")
	}

	close(b.release)
	if st := <-stepped; st != Activated {
		t.Errorf("state = %s", st)
	}
	if st := sup.Status(); st.Attempts != 1 || len(st.Active) != 1 {
		t.Errorf("status after scan = %+v", st)
	}
}

func TestStopsPollingAfterActivation(t *testing.T) {
	hangman := &fakeSurface{name: "hangman", present: true}
	skribbl := &fakeSurface{name: "skribbl"}
	sup := New("page", []Surface{hangman, skribbl}, time.Millisecond, 20, zap.NewNop())

	sup.Step()
	skribbl.present = true
	sup.Step()

	if len(skribbl.calls) != 0 {
		t.Errorf("second surface activated after supervisor stopped: %v", skribbl.calls)
	}
	if st := sup.Status(); st.Attempts != 1 {
		t.Errorf("attempts = %d", st.Attempts)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	s := &fakeSurface{name: "hangman"}
	sup := New("page", []Surface{s}, time.Millisecond, 20, zap.NewNop())

	for i := 1; i < 20; i++ {
		if got := sup.Step(); got != Polling {
			t.Fatalf("attempt %d: state = %s", i, got)
		}
	}
	if got := sup.Step(); got != GaveUp {
		t.Fatalf("attempt 20: state = %s", got)
	}

	// A container showing up later changes nothing.
	s.present = true
	if got := sup.Step(); got != GaveUp {
		t.Fatalf("state after giving up = %s", got)
	}
	if len(s.calls) != 0 {
		t.Errorf("surface touched: %v", s.calls)
	}
	if st := sup.Status(); st.Attempts != 20 || len(st.Active) != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestRunGivesUp(t *testing.T) {
	sup := New("page", []Surface{&fakeSurface{name: "skribbl"}}, time.Millisecond, 20, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sup.State() != GaveUp {
		t.Errorf("state = %s", sup.State())
	}
	if st := sup.Status(); st.Attempts != 20 {
		t.Errorf("attempts = %d", st.Attempts)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	sup := New("page", []Surface{&fakeSurface{name: "skribbl"}}, time.Hour, 20, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sup.Run(ctx); err != context.Canceled {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if sup.State() != Polling {
		t.Errorf("state = %s", sup.State())
	}
}

func TestDefaults(t *testing.T) {
	sup := New("page", nil, 0, 0, zap.NewNop())
	if sup.interval != 500*time.Millisecond || sup.maxAttempts != 20 {
		t.Errorf("defaults = %v, %d", sup.interval, sup.maxAttempts)
	}
}

// The hangman chat box shows up on the third poll with a line already in
// it; that line is classified exactly once even though the observer is
// installed before the scan.
func TestHangmanContainerAppearsLate(t *testing.T) {
	doc := dom.New()
	rc := &recordingClassifier{}
	renderer := badge.NewRenderer(doc, time.Minute, zap.NewNop())
	dispatcher := surface.NewDispatcher("hangman-page", rc, renderer, nil, 16, 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	adapters := []Surface{
		surface.NewAdapter(surface.Hangman(), doc, dispatcher, zap.NewNop()),
		surface.NewAdapter(surface.Skribbl(), doc, dispatcher, zap.NewNop()),
	}
	sup := New("hangman-page", adapters, 400*time.Millisecond, 20, zap.NewNop())

	if sup.Step() != Polling || sup.Step() != Polling {
		t.Fatal("activated before the container existed")
	}

	if _, err := doc.AppendHTML(doc.Body(), `<div id="chatBox"><p>hello world</p></div>`); err != nil {
		t.Fatalf("AppendHTML: %v", err)
	}

	if got := sup.Step(); got != Activated {
		t.Fatalf("state = %s", got)
	}
	dispatcher.Wait()

	rc.mu.Lock()
	texts := append([]string(nil), rc.texts...)
	rc.mu.Unlock()
	if len(texts) != 1 || texts[0] != "hello world" {
		t.Fatalf("classified = %q", texts)
	}

	st := sup.Status()
	if st.Attempts != 3 || len(st.Active) != 1 || st.Active[0] != surface.HangmanName {
		t.Errorf("status = %+v", st)
	}

	p := doc.QueryOne("#chatBox > p")
	if !doc.HasFlag(p, badge.CheckedFlag) {
		t.Error("message not annotated")
	}
}
