package surface

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/john/chatguard/internal/classifier"
	"github.com/john/chatguard/internal/message"
)

// Classifier returns a result for text, or nil when none is available
type Classifier interface {
	Classify(ctx context.Context, text string) *classifier.Result
}

// Annotator attaches a result badge to a node at most once
type Annotator interface {
	Annotate(node *html.Node, res *classifier.Result) bool
}

// Task is one message waiting for classification
type Task struct {
	Surface string
	Node    *html.Node
	Text    string
}

// Dispatcher runs one independent classify-and-annotate task per message.
// Observers hand tasks over through a buffered intake channel so the
// observer callback itself never waits on the network.
type Dispatcher struct {
	page       string
	classifier Classifier
	annotator  Annotator
	verdicts   chan<- message.Verdict
	logger     *zap.Logger

	intake   chan Task
	limit    int
	inflight sync.WaitGroup

	mu         sync.Mutex // guards stopped and registration with submitters
	stopped    bool
	done       chan struct{}
	submitters sync.WaitGroup
}

// NewDispatcher creates a dispatcher for one page. verdicts may be nil.
func NewDispatcher(page string, c Classifier, a Annotator, verdicts chan<- message.Verdict, bufferSize, limit int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if limit <= 0 {
		limit = 8
	}
	return &Dispatcher{
		page:       page,
		classifier: c,
		annotator:  a,
		verdicts:   verdicts,
		logger:     logger,
		intake:     make(chan Task, bufferSize),
		done:       make(chan struct{}),
		limit:      limit,
	}
}

// Submit queues t. It blocks while the intake buffer is full and reports
// false once the dispatcher has stopped.
func (d *Dispatcher) Submit(t Task) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.submitters.Add(1)
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.submitters.Done()

	select {
	case d.intake <- t:
		return true
	case <-d.done:
		d.inflight.Done()
		return false
	}
}

// Run starts tasks until ctx is cancelled, then waits for running ones
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(d.limit)

	for {
		select {
		case t := <-d.intake:
			g.Go(func() error {
				defer d.inflight.Done()
				d.handle(ctx, t)
				return nil
			})

		case <-ctx.Done():
			d.logger.Info("Dispatcher shutting down, waiting for in-flight classifications...")
			d.stop()
			g.Wait()
			// No Submit can reach intake once submitters is empty
			d.submitters.Wait()
			d.drain()
			return ctx.Err()
		}
	}
}

// Wait blocks until every submitted task has finished or been released
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// stop refuses new submissions and releases blocked ones
func (d *Dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.stopped = true
		close(d.done)
	}
}

// drain releases tasks that were queued but never started
func (d *Dispatcher) drain() {
	for {
		select {
		case <-d.intake:
			d.inflight.Done()
		default:
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, t Task) {
	res := d.classifier.Classify(ctx, t.Text)
	if res == nil {
		return
	}
	if !d.annotator.Annotate(t.Node, res) {
		return
	}
	if d.verdicts == nil {
		return
	}

	v := message.Verdict{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Page:      d.page,
		Surface:   t.Surface,
		Text:      t.Text,
		Label:     res.Label,
		Score:     res.Score,
	}
	select {
	case d.verdicts <- v:
	default:
		d.logger.Warn("Verdict queue full, dropping journal entry", zap.String("surface", t.Surface))
	}
}
