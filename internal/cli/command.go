package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/di"
	"github.com/clinicops/authcore/internal/observability"
)

type options struct {
	httpAddr string
	logLevel string
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "Refresh token lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the cleanup schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, lp, err := observability.NewLogger(ctx, cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(ctx, cfg, logger, runtime)
			if err != nil {
				_ = runtime.Shutdown(context.WithoutCancel(ctx))
				return err
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "override HTTP_ADDR")
	return cmd
}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the refresh token schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			_, cleanup, err := di.ProvideDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cleanup()
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func newCleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run the expiry sweep and remember-me trim once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, lp, err := observability.NewLogger(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if lp != nil {
				defer flushLogs(cmd.Context(), lp, cmd.ErrOrStderr())
			}
			svc, cleanup, err := di.InitializeCleanup(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			result := svc.ForceCleanup(cmd.Context())
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("cleanup finished with failures")
			}
			return nil
		},
	}
}

type logShutdowner interface {
	Shutdown(ctx context.Context) error
}

// flushLogs exports the records a one-shot command buffered in the otel log pipeline.
func flushLogs(ctx context.Context, lp logShutdowner, errOut io.Writer) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lp.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(errOut, "flush logs: %v\n", err)
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.httpAddr != "" {
		cfg.HTTPAddr = opts.httpAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
