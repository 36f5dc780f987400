// Command corpusctl manages corpus indices and runs the ingestion
// pipeline from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/lifecycle"
	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "corpusctl",
	Short:         "Manage corpus indices and ingestion runs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.AddCommand(createCmd, deleteCmd, removeCmd, runCmd, recreateCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "corpusctl: %v\n", err)
		os.Exit(1)
	}
}

// app holds the clients every subcommand needs.
type app struct {
	cfg       *config.Config
	engine    *engine.Client
	lifecycle *lifecycle.Manager
	loader    *corpusconf.Loader
	metrics   *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	client := engine.NewClient(cfg.Engine)
	return &app{
		cfg:       cfg,
		engine:    client,
		lifecycle: lifecycle.NewManager(client, cfg.Engine),
		loader:    corpusconf.NewLoader(cfg.Corpora.ConfigDir),
		metrics:   metrics.New(),
	}, nil
}

func (a *app) schema(corpusID string) (*corpusconf.Schema, error) {
	cfg, err := a.loader.Load(corpusID)
	if err != nil {
		return nil, err
	}
	return corpusconf.Compile(cfg)
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
