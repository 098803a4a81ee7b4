// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saplcore/pdp/attribute"
	"github.com/saplcore/pdp/config"
	"github.com/saplcore/pdp/funcs"
	"github.com/saplcore/pdp/logging"
	"github.com/saplcore/pdp/metrics"
	"github.com/saplcore/pdp/pdp"
	"github.com/saplcore/pdp/repo"
	"github.com/saplcore/pdp/server"
)

type serveCommandParams struct {
	configPath  string
	policiesDir string
	addr        string
}

// initServe registers the long-running `serve` subcommand: load a
// configuration file, build the PDP from it, mount the decision and
// metrics endpoints, and serve until interrupted — the teacher's
// `opa run -s` analogue (runtime/runtime.go's start-and-watch sequencing).
func initServe(root *cobra.Command) {
	var params serveCommandParams

	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve authorization decisions over HTTP",
		RunE: func(*cobra.Command, []string) error {
			return runServe(params)
		},
	}
	c.Flags().StringVar(&params.configPath, "config", "", "path to the PDP configuration file (YAML or JSON)")
	c.Flags().StringVar(&params.policiesDir, "policies", "", "directory of JSON-encoded policy/policy-set documents, watched for changes")
	c.Flags().StringVar(&params.addr, "addr", ":8181", "HTTP listen address")
	c.MarkFlagRequired("policies")
	root.AddCommand(c)
}

func runServe(params serveCommandParams) error {
	logger := logging.New()

	cfg := config.Config{CombiningAlgorithm: "deny-overrides", ErrorsMode: "propagate"}
	if params.configPath != "" {
		raw, err := os.ReadFile(params.configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		parsed, err := config.ParseConfig(raw, "pdp-serve")
		if err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
		cfg = *parsed
	}

	if level, err := logging.GetLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Log.Format != "" {
		logger.SetFormat(cfg.Log.Format, "")
	}

	alg, err := cfg.Algorithm()
	if err != nil {
		return err
	}
	defaultVote, err := cfg.DefaultVoteValue()
	if err != nil {
		return err
	}
	errorsMode, err := cfg.ErrorsModeValue()
	if err != nil {
		return err
	}
	timing, err := cfg.TimingParams()
	if err != nil {
		return err
	}

	metricsProvider := metrics.New()
	broker := attribute.NewBroker(attribute.NewRegistry())
	broker.SetSink(metricsProvider)

	store := repo.New(params.policiesDir, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Watch(ctx); err != nil {
		return fmt.Errorf("watching policies: %w", err)
	}

	p := pdp.New(pdp.Config{
		ID:                 cfg.ID,
		TopLevelAlgorithm:  alg,
		TopLevelDefault:    defaultVote,
		TopLevelErrorsMode: errorsMode,
		Registry:           funcs.NewRegistry(),
		Broker:             broker,
		DefaultTiming:      timing,
	}, store)

	srv := server.New(p, logger)
	mux := http.NewServeMux()
	srv.RegisterEndpoints(func(path, _ string, handler http.Handler) { mux.Handle(path, handler) })
	metricsProvider.RegisterEndpoints(func(path, _ string, handler http.Handler) { mux.Handle(path, handler) })

	httpServer := &http.Server{Addr: params.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening on %s", params.addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
