package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/secura/anonymizer/config"
	"github.com/secura/anonymizer/pii"
	"github.com/secura/anonymizer/server"
	"github.com/secura/anonymizer/telemetry"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "anonymizer",
		Short:        "PII detection and anonymization service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP anonymization service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		newAnonymizeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the service version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.ServiceName, cfg.ServiceVersion)
				return nil
			},
		},
	)
	return rootCmd
}

func newAnonymizeCmd() *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "anonymize [text...]",
		Short: "Anonymize the given text, or stdin when no text is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if operator != "" {
				cfg.Operator = strings.ToLower(operator)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = strings.TrimRight(string(data), "\n")
			}

			logger, err := config.SetupLogger(cfg.LogLevel, cfg.Environment)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			result, err := a.service.Anonymize(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("anonymization failed (%s): %w", pii.KindOf(err), err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "override ANONYMIZE_OPERATOR ("+strings.Join(pii.OperatorNames, ", ")+")")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.SetupLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     cfg.ServiceVersion,
			Debug:       cfg.Debug,
		}); err != nil {
			logger.Warn("Sentry initialization failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	shutdownTracing, err := telemetry.SetupTracing(telemetry.Config{
		Endpoint:       cfg.TracingEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	audit, err := newAuditStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAuditStore(audit),
	}
	if a.models != nil {
		opts = append(opts, server.WithModelController(a.models))
	}

	srv := server.NewServer(cfg, a.service, opts...)
	defer func() { _ = srv.Close() }()

	return srv.Start(ctx)
}
