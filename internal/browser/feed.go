package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/message"
	"github.com/john/chatguard/internal/surface"
)

// seenMarker is set on live-page nodes already read
const seenMarker = "chatguardSeen"

// Feed opens a live page in Chrome and delivers each new chat line found
// under the surface's scan selector.
type Feed struct {
	url      string
	spec     surface.Spec
	headless bool
	execPath string
	poll     time.Duration
	logger   *zap.Logger
}

// New creates a browser feed for url read with the named surface's selectors
func New(url, surfaceName string, headless bool, execPath string, poll time.Duration, logger *zap.Logger) (*Feed, error) {
	spec, ok := surface.Lookup(surfaceName)
	if !ok {
		return nil, fmt.Errorf("unknown surface %q", surfaceName)
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Feed{
		url:      url,
		spec:     spec,
		headless: headless,
		execPath: execPath,
		poll:     poll,
		logger:   logger,
	}, nil
}

// Start launches the browser, navigates, and polls for chat lines until
// ctx is cancelled.
func (f *Feed) Start(ctx context.Context, messageChan chan<- message.Message) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.headless),
	)
	if f.execPath != "" {
		opts = append(opts, chromedp.ExecPath(f.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(f.logger.Sugar().Debugf))
	defer cancelBrowser()

	f.logger.Info("Opening page", zap.String("url", f.url), zap.String("surface", f.spec.Name))
	if err := chromedp.Run(browserCtx, chromedp.Navigate(f.url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", f.url, err)
	}

	script, err := lineScript(f.spec.ScanSelector)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var lines []string
			if err := chromedp.Run(browserCtx, chromedp.Evaluate(script, &lines)); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Debug("Reading chat lines failed", zap.Error(err))
				continue
			}
			for _, line := range lines {
				select {
				case messageChan <- f.toMessage(line):
				case <-ctx.Done():
					return ctx.Err()
				}
			}

		case <-ctx.Done():
			f.logger.Info("Closing browser...")
			return ctx.Err()
		}
	}
}

func (f *Feed) toMessage(line string) message.Message {
	return message.Message{
		Platform:  "browser",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Channel:   f.url,
		Message:   strings.TrimSpace(line),
	}
}

// lineScript returns JS that collects the text of every unread node
// matching selector and marks those nodes read.
func lineScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("quote selector: %w", err)
	}
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))
  .filter(n => !n.dataset.%s)
  .map(n => { n.dataset.%s = "1"; return (n.innerText || "").trim(); })
  .filter(t => t.length > 0)`, quoted, seenMarker, seenMarker), nil
}
