package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"instrument-verification-service/internal/server"
	"instrument-verification-service/pkg/logger"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	serveAddr     string
	serveBasePath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification HTTP API",
	Long: `Serve exposes records, verification, batches and reports over HTTP.
Requests need a bearer token signed with server.jwt_secret when one is set.
The OpenAPI document is served at /openapi.json and the docs UI at /docs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
	serveCmd.Flags().StringVar(&serveBasePath, "base-path", "", "API base path (default: server.base_path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(sigCtx, appConfig, true)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := appConfig.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	basePath := appConfig.Server.BasePath
	if serveBasePath != "" {
		basePath = serveBasePath
	}

	log := logger.WithComponent("http")
	handler, err := server.New(server.Config{
		Orchestrator: a.orchestrator,
		Records:      a.records,
		Cache:        a.cache,
		BasePath:     basePath,
		Version:      getVersionString(),
		Auth:         server.AuthConfig{JWTSecret: appConfig.Server.JWTSecret},
		Logger:       log,
	})
	if err != nil {
		return err
	}
	if appConfig.Server.JWTSecret == "" {
		log.Warn("server.jwt_secret is empty; requests are not authenticated")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving verifier API on %s%s (OpenAPI at /openapi.json)\n", addr, basePath)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	return nil
}
