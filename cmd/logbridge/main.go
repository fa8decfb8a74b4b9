package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/logging"
	"github.com/therealutkarshpriyadarshi/logbridge/internal/shutdown"
)

var version = "0.1.0"

func main() {
	bootLogger := logging.New(logging.Config{Output: os.Stderr})

	ctx, cancel := shutdown.SignalContext(context.Background(), bootLogger)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

type runFlags struct {
	configFile string
	logLevel   string
	logFormat  string
	output     string
	stream     string
	path       string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "logbridge",
		Short:         "Forward a JSON-lines log file into a stream",
		Long:          "logbridge tails a growing JSON-lines log file and appends every new record, flattened to string fields, to a Redis stream or another sink.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var flags runFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Tail the log file and forward records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, newLogger(cfg, cmd.ErrOrStderr()))
		},
	}
	runCmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "Path to configuration file (defaults plus environment when empty)")
	runCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	runCmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: console|json")
	runCmd.Flags().StringVar(&flags.output, "output", "", "Output type: redis|kafka|elasticsearch|stdout")
	runCmd.Flags().StringVar(&flags.stream, "stream", "", "Stream name")
	runCmd.Flags().StringVar(&flags.path, "path", "", "Log file to tail")
	rootCmd.AddCommand(runCmd)

	var configFile string
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(runFlags{configFile: configFile})
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(redacted(cfg))
		},
	}
	configCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "logbridge", version)
		},
	})

	return rootCmd
}

// loadConfig loads the file (or defaults), applies the environment, then
// command line overrides, and validates the result
func loadConfig(flags runFlags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.output != "" {
		cfg.Output.Type = flags.output
	}
	if flags.stream != "" {
		cfg.Output.Stream = flags.stream
	}
	if flags.path != "" {
		cfg.Input.Path = flags.path
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stdout unless records are written there
func newLogger(cfg *config.Config, stderr io.Writer) *logging.Logger {
	var out io.Writer = os.Stdout
	if cfg.Output.Type == "stdout" {
		out = stderr
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: out,
	})
	logging.SetGlobal(logger)
	return logger
}

// redacted returns a copy of cfg with credentials blanked
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	if cfg.Output.Redis != nil && cfg.Output.Redis.Password != "" {
		redis := *cfg.Output.Redis
		redis.Password = "***"
		out.Output.Redis = &redis
	}
	if cfg.Output.Kafka != nil && cfg.Output.Kafka.SASLPassword != "" {
		kafka := *cfg.Output.Kafka
		kafka.SASLPassword = "***"
		out.Output.Kafka = &kafka
	}
	if es := cfg.Output.Elasticsearch; es != nil && (es.Password != "" || es.APIKey != "") {
		copied := *es
		if copied.Password != "" {
			copied.Password = "***"
		}
		if copied.APIKey != "" {
			copied.APIKey = "***"
		}
		out.Output.Elasticsearch = &copied
	}
	return &out
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
