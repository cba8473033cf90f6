package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"soragen/internal/infra"
	"soragen/internal/providers/grsai"
)

// version vars injected via ldflags at build time
var (
	version = "dev"
	commit  = "unknown"
)

var (
	printSuccess = color.New(color.FgGreen).PrintfFunc()
	printError   = color.New(color.FgRed).PrintfFunc()
	printWarning = color.New(color.FgYellow).PrintfFunc()
)

type app struct {
	cfg    *infra.Config
	logger infra.Logger
	client *grsai.Client
}

func newApp() (*app, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client, err := grsai.NewClient(grsai.Options{
		APIKey:         cfg.GrsaiAPIKey,
		BaseURL:        cfg.GrsaiBaseURL,
		Model:          cfg.Model,
		RequestSpacing: cfg.RequestSpacing,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         &logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, client: client}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "soragen",
		Short:   "Retry-driven Sora2 video generation against the Grsai API",
		Long:    "soragen submits an image + prompt to Grsai's Sora2 endpoint, polls for the result, and resubmits on moderation rejection or failure until one generation passes or the attempt budget runs out.",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newGenerateCmd(),
		newBatchCmd(),
		newCreditsCmd(),
		newStatusCmd(),
		newHistoryCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError("【✗】%v\n", err)
		os.Exit(1)
	}
}
