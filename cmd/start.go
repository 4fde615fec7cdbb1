package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"llmgate/internal/process"
	"llmgate/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the protocol translation gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("starting gateway",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
		"models", len(cfg.Models),
	)

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}

	return srv.Start()
}
