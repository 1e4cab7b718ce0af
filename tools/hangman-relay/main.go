// Command hangman-relay serves the multiplayer hangman chat relay that the
// relay feed joins as a player.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/john/chatguard/internal/logging"
	"github.com/john/chatguard/internal/relay"
)

var (
	addr     string
	words    []string
	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hangman-relay",
	Short: "Run the hangman chat relay",
	Long: `Serves websocket rooms at /ws. Players join a room, chat, and guess
letters of a shared word.

Example:
  hangman-relay --addr :3000 --word phishing --word gopher`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":3000", "listen address")
	rootCmd.Flags().StringSliceVar(&words, "word", nil, "word to play (repeatable, default built-in list)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(logLevel, "")
	if err != nil {
		return err
	}
	defer logger.Sync()

	r := chi.NewRouter()
	r.Handle("/ws", relay.NewServer(words, logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Relay listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
