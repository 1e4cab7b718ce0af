package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatguard/internal/badge"
	"github.com/john/chatguard/internal/bootstrap"
	"github.com/john/chatguard/internal/browser"
	"github.com/john/chatguard/internal/classifier"
	"github.com/john/chatguard/internal/config"
	"github.com/john/chatguard/internal/dom"
	"github.com/john/chatguard/internal/feed"
	"github.com/john/chatguard/internal/health"
	"github.com/john/chatguard/internal/journal"
	"github.com/john/chatguard/internal/kick"
	"github.com/john/chatguard/internal/logging"
	"github.com/john/chatguard/internal/message"
	"github.com/john/chatguard/internal/relay"
	"github.com/john/chatguard/internal/surface"
	"github.com/john/chatguard/internal/twitch"
	"github.com/john/chatguard/internal/uploader"
)

// page is one chat page and the pipeline watching it
type page struct {
	name       string
	source     feed.Source
	messages   chan message.Message
	mirror     *feed.Mirror
	dispatcher *surface.Dispatcher
	adapters   []*surface.Adapter
	supervisor *bootstrap.Supervisor
}

func newPage(name, surfaceName string, source feed.Source, cfg *config.Config, c *classifier.Client, verdicts chan<- message.Verdict, logger *zap.Logger) (*page, error) {
	logger = logger.With(zap.String("page", name))
	doc := dom.New()

	mirror, err := feed.NewMirror(doc, surfaceName, logger)
	if err != nil {
		return nil, err
	}

	renderer := badge.NewRenderer(doc, cfg.Badge.Display(), logger)
	dispatcher := surface.NewDispatcher(name, c, renderer, verdicts,
		cfg.Dispatcher.BufferSize, cfg.Dispatcher.MaxInFlight, logger)

	p := &page{
		name:       name,
		source:     source,
		messages:   make(chan message.Message, cfg.Dispatcher.BufferSize),
		mirror:     mirror,
		dispatcher: dispatcher,
	}

	var surfaces []bootstrap.Surface
	for _, spec := range surface.All() {
		a := surface.NewAdapter(spec, doc, dispatcher, logger)
		p.adapters = append(p.adapters, a)
		surfaces = append(surfaces, a)
	}
	p.supervisor = bootstrap.New(name, surfaces, cfg.Bootstrap.Interval(), cfg.Bootstrap.MaxAttempts, logger)
	return p, nil
}

// run starts every goroutine of the page on wg
func (p *page) run(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger) {
	logger = logger.With(zap.String("page", p.name))

	start := func(component string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Component stopped", zap.String("component", component), zap.Error(err))
			}
		}()
	}

	start("dispatcher", func() error { return p.dispatcher.Run(ctx) })
	start("supervisor", func() error {
		err := p.supervisor.Run(ctx)
		<-ctx.Done()
		for _, a := range p.adapters {
			a.Close()
		}
		return err
	})
	start("mirror", func() error { return p.mirror.Start(ctx, p.messages) })
	start("feed", func() error { return p.source.Start(ctx, p.messages) })
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// No logger yet: the level comes from the config
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Chatguard starting...", zap.Int("feeds", cfg.FeedCount()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	verdicts := make(chan message.Verdict, cfg.Journal.BufferSize)
	fileChan := make(chan string, 100)

	client := classifier.NewClient(cfg.Classifier.URL, cfg.Classifier.Timeout(), logger)
	go func() {
		readyCtx, readyCancel := context.WithTimeout(ctx, cfg.Classifier.Timeout())
		defer readyCancel()
		if client.Ready(readyCtx) {
			logger.Info("Classifier ready", zap.String("url", cfg.Classifier.URL))
		} else {
			logger.Warn("Classifier not ready, messages stay unannotated until it is", zap.String("url", cfg.Classifier.URL))
		}
	}()

	pages, err := buildPages(cfg, client, verdicts, logger)
	if err != nil {
		logger.Fatal("Failed to build pages", zap.Error(err))
	}

	jrnl := journal.New(
		cfg.Journal.OutputDir,
		cfg.Journal.BufferSize,
		cfg.Journal.RotateMinutes,
		cfg.Journal.RotateMegabytes,
		logger,
	)

	var up *uploader.Uploader
	if cfg.S3.Enabled() {
		up, err = uploader.New(ctx, uploader.Options{
			Bucket:      cfg.S3.Bucket,
			Region:      cfg.S3.Region,
			Prefix:      cfg.S3.Prefix,
			RoleARN:     cfg.S3.RoleARN,
			AccessKeyID: cfg.S3.AccessKeyID,
			SecretKey:   cfg.S3.SecretAccessKey,
			DeleteAfter: cfg.Uploader.DeleteAfterUpload,
			MaxRetries:  cfg.Uploader.MaxRetries,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create uploader", zap.Error(err))
		}
		if err := up.ScanAndUploadExisting(ctx, cfg.Journal.OutputDir); err != nil {
			logger.Warn("Failed to scan for existing journal files", zap.Error(err))
		}
	} else {
		logger.Info("S3 bucket not configured, journal files stay local")
	}

	reporters := make([]health.Reporter, 0, len(pages))
	for _, p := range pages {
		reporters = append(reporters, p.supervisor)
	}
	healthServer := health.New(cfg.Health.Addr, reporters, client, logger)

	var wg sync.WaitGroup

	for _, p := range pages {
		p.run(ctx, &wg, logger)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := jrnl.Start(ctx, verdicts, fileChan); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Journal error", zap.Error(err))
		}
	}()

	if up != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := up.Start(ctx, fileChan); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Uploader error", zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := healthServer.Start(); err != nil {
			logger.Error("Status server error", zap.Error(err))
		}
	}()

	logger.Info("All components started successfully")

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down status server", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		for _, p := range pages {
			p.dispatcher.Wait()
		}
		if up != nil {
			up.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
	}
}

// buildPages creates one page per configured feed
func buildPages(cfg *config.Config, c *classifier.Client, verdicts chan<- message.Verdict, logger *zap.Logger) ([]*page, error) {
	var pages []*page
	add := func(name, surfaceName string, source feed.Source) error {
		p, err := newPage(name, surfaceName, source, cfg, c, verdicts, logger)
		if err != nil {
			return err
		}
		pages = append(pages, p)
		return nil
	}

	if cfg.Relay.URL != "" {
		logger.Info("Joining hangman relay", zap.String("url", cfg.Relay.URL), zap.String("room", cfg.Relay.Room))
		src := relay.NewClient(cfg.Relay.URL, cfg.Relay.Name, cfg.Relay.Room, logger)
		if err := add("relay", surface.HangmanName, src); err != nil {
			return nil, err
		}
	}

	if cfg.Browser.URL != "" {
		src, err := browser.New(cfg.Browser.URL, cfg.Browser.Surface, cfg.Browser.Headless,
			cfg.Browser.ExecPath, cfg.Browser.PollInterval(), logger)
		if err != nil {
			return nil, err
		}
		if err := add("browser", cfg.Browser.Surface, src); err != nil {
			return nil, err
		}
	}

	if len(cfg.Twitch.Channels) > 0 {
		logger.Info("Monitoring Twitch channels", zap.Strings("channels", cfg.Twitch.Channels))
		src := twitch.New(cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channels, logger)
		if err := add("twitch", cfg.Twitch.Surface, src); err != nil {
			return nil, err
		}
	}

	if cfg.Kick.Enabled && len(cfg.Kick.Channels) > 0 {
		channels := make([]kick.ChannelConfig, 0, len(cfg.Kick.Channels))
		for _, ch := range cfg.Kick.Channels {
			channels = append(channels, kick.ChannelConfig{Slug: ch.Slug, ChatroomID: ch.ChatroomID})
		}
		logger.Info("Monitoring Kick channels", zap.Int("count", len(channels)))
		if err := add("kick", cfg.Kick.Surface, kick.New(channels, logger)); err != nil {
			return nil, err
		}
	}

	return pages, nil
}
