package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelsec/sentinel/internal/api"
	"github.com/sentinelsec/sentinel/internal/insight"
	"github.com/sentinelsec/sentinel/internal/limiter"
	"github.com/sentinelsec/sentinel/internal/orchestrator"
	"github.com/sentinelsec/sentinel/internal/probe"
	"github.com/sentinelsec/sentinel/internal/shared/constants"
	"github.com/sentinelsec/sentinel/internal/store"
	"github.com/sentinelsec/sentinel/internal/target"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API service",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = viper.GetString("listen_addr")
		}
		dbPath, _ := cmd.Flags().GetString("db")
		if dbPath == "" {
			dbPath = viper.GetString("db_path")
		}
		authToken, _ := cmd.Flags().GetString("auth-token")
		if authToken == "" {
			authToken = viper.GetString("auth_token")
		}
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

		defer func() {
			_ = logger.Sync()
		}()

		st, err := store.Open(dbPath, logger)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		validator := target.NewValidator(viper.GetStringSlice("allowlist"))
		engine := probe.NewEngine(viper.GetInt("probe_rps"))
		insightClient := insight.New(
			viper.GetString("insight.endpoint"),
			viper.GetString("insight.api_key"),
			time.Duration(viper.GetInt("insight.timeout_seconds"))*time.Second,
			logger,
		)

		orch := orchestrator.New(
			orchestrator.Config{MaxConcurrent: viper.GetInt("max_concurrent_scans")},
			st, validator, engine, insightClient, logger,
		)

		lim := limiter.New(constants.RateWindow, constants.RateCap)
		stopPrune := make(chan struct{})
		go lim.PruneLoop(time.Minute, stopPrune)
		defer close(stopPrune)

		server := api.NewServer(api.Config{
			Orchestrator: orch,
			Validator:    validator,
			Limiter:      lim,
			Logger:       logger,
			AuthToken:    authToken,
		})
		httpServer := server.HTTPServer(addr)

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("%s API server listening on %s (db: %s)\n", colorInfo("→"), addr, dbPath)
			fmt.Printf("%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
			serverErrors <- httpServer.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
		case sig := <-shutdown:
			fmt.Printf("\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := httpServer.Shutdown(ctx); err != nil {
				if closeErr := httpServer.Close(); closeErr != nil {
					return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
				}
				return fmt.Errorf("failed to gracefully shutdown server: %w", err)
			}

			// Let in-flight probes land their terminal status before the
			// store closes.
			orch.Wait()
			fmt.Printf("%s Server shutdown complete\n", colorSuccess("✓"))
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides config listen_addr)")
	serveCmd.Flags().String("db", "", "SQLite database path (overrides config db_path)")
	serveCmd.Flags().String("auth-token", "", "optional shared secret for API requests")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "graceful shutdown timeout")
}
