package main

import (
	"context"
	"fmt"
	"os"

	"github.com/friendfinder/svcman"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svcman",
		Short: "Service manager for the friend-finder application server",
		Long: `Svcman supervises the friend-finder python application server, keeps the
database connection healthy and exposes a liveness endpoint for external
monitors.

Examples:
  svcman serve --config=svcman.yml   # Run in the foreground
  svcman serve svcman.yml --daemonize  # Run in the background`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to YAML config file")
	return root
}

func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.yml]",
		Short: "Start the service manager",
		Long: `Start the service manager: connect to the database, spawn the application
server and serve the liveness endpoint until a termination signal arrives.

Examples:
  svcman serve --config=svcman.yml
  svcman serve svcman.yml --daemonize --pidfile=/var/run/svcman.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the svcman version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("svcman %s\n", version)
		},
	}
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=svcman.yml or provide as argument")
	}

	cfg, err := svcman.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	log := svcman.NewLogger(cfg.Logging)
	if err := svcman.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	mgr := svcman.New(cfg, log)
	return mgr.Run(context.Background())
}
