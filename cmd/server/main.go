package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/claude-harbor/agentd/internal"
	"github.com/claude-harbor/agentd/internal/config"
	"github.com/claude-harbor/agentd/internal/logger"
)

var (
	// Version information set during build
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type serveFlags struct {
	configPath string
	logLevel   string
	port       int
	dataDir    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &serveFlags{}

	root := &cobra.Command{
		Use:   "agentd",
		Short: "agentd — WebSocket runtime for remote clients driving a local coding agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&flags.port, "port", 0, "Server port (0 keeps the config/file default)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Data directory path (empty keeps the config/file default)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newVersionCmd())

	return root
}

func newServeCmd(flags *serveFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agentd server (default when no subcommand is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentd\n")
			fmt.Printf("Version:    %s\n", Version)
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)
		},
	}
}

func runServe(flags *serveFlags) error {
	// Bootstrap logger, used until the real log level is known (it may
	// come from the config file or environment rather than this flag).
	log := logger.New(flags.logLevel)
	log.Info("Starting agentd server",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	opts := config.Options{
		Port:    flags.port,
		DataDir: flags.dataDir,
	}

	watcher, err := config.NewWatcher(flags.configPath, opts)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		return err
	}
	cfg, err := watcher.Config()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		return err
	}

	if cfg.LogLevel != flags.logLevel {
		log = logger.New(cfg.LogLevel)
	}

	serverConfig := internal.ServerConfig{
		Config:                cfg,
		ConfigWatcher:         watcher,
		MaxConnections:        100,
		MaxProjects:           cfg.Execution.MaxProjects,
		MemoryLimitMB:         2048,
		GoroutineLimit:        1000,
		ResourceCheckInterval: 30 * time.Second,
	}

	server, err := internal.NewServer(serverConfig)
	if err != nil {
		log.Error("Failed to create server", "error", err)
		return err
	}

	if err := server.Start(); err != nil {
		log.Error("Server error", "error", err)
		return err
	}

	return nil
}
