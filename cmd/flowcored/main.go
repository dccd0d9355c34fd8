package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flowcore/core/internal/analytics"
	"github.com/flowcore/core/internal/config"
	"github.com/flowcore/core/internal/flowcore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "flowcored",
		Short: "Flow Core daemon: correlates static structure graphs with runtime traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVar(&configFile, "config", "", "path to a YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{})
	}

	sink, err := buildSink(cfg, log)
	if err != nil {
		return fmt.Errorf("build analytics sink: %w", err)
	}

	core, err := flowcore.New(cfg, log, sink)
	if err != nil {
		return fmt.Errorf("wire flow core: %w", err)
	}

	core.Start()
	log.Info("flowcored started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	core.Stop()
	if sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGracePeriod)
		defer cancel()
		if err := sink.Close(ctx); err != nil {
			log.WithError(err).Warn("analytics sink close did not complete cleanly")
		}
	}
	return nil
}

// buildSink constructs the Neo4j analytics sink when analytics is enabled
// in configuration, or returns a nil sink otherwise, in which case
// push-to-analytics is rejected with UNAVAILABLE for the process lifetime.
func buildSink(cfg *config.Config, log *logrus.Logger) (analytics.Sink, error) {
	if !cfg.Analytics.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownGracePeriod)
	defer cancel()
	sink, err := analytics.NewNeo4jSink(ctx, cfg.Analytics.Neo4jURI, cfg.Analytics.Neo4jUsername, cfg.Analytics.Neo4jPassword, cfg.Analytics.Neo4jDatabase)
	if err != nil {
		return nil, err
	}
	log.WithField("neo4j_uri", cfg.Analytics.Neo4jURI).Info("analytics sink connected")
	return sink, nil
}
