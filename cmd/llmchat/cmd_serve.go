package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/llmselect/llmselect-chat/pkg/server"
)

var servePort int

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default LLMCHAT_PORT or 8501)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat web UI and API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort > 0 {
			cfg.Port = servePort
		}

		log.Info().Str("version", cfg.Version).Msg("💬 LLM Select Chat starting...")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.NewWithConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize server: %w", err)
		}

		// Writes must outlive the slowest model call.
		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", srv.Port),
			Handler:      srv.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: cfg.LLM.Timeout + 30*time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().
				Int("port", srv.Port).
				Str("log_file", srv.Store.Path()).
				Msg("🔥 Chat server ready")
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				srv.ShutdownFunc(context.Background())
				return fmt.Errorf("listen: %w", err)
			}
		case <-ctx.Done():
		}

		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := srv.ShutdownFunc(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown reported errors")
		}
		return nil
	},
}
