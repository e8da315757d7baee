// Command dashscope is a small CLI over the client library: text generation,
// image synthesis and async task management from the shell.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aqstack/dashscope-go/internal/config"
	"github.com/aqstack/dashscope-go/pkg/dashscope"
)

var (
	flagConfig    string
	flagAPIKey    string
	flagBaseURL   string
	flagWorkspace string
	flagModel     string
	flagLogLevel  string
	flagTimeout   time.Duration

	fileModel string // model from the config file, used when --model is absent
)

var rootCmd = &cobra.Command{
	Use:           "dashscope",
	Short:         "Call the DashScope generative model service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "config file (.toml, .yaml or .json)")
	pf.StringVar(&flagAPIKey, "api-key", "", "API key (defaults to $DASHSCOPE_API_KEY)")
	pf.StringVar(&flagBaseURL, "base-url", "", "API base URL")
	pf.StringVar(&flagWorkspace, "workspace", "", "workspace id")
	pf.StringVarP(&flagModel, "model", "m", "", "model name")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "request timeout for synchronous calls")

	rootCmd.AddCommand(generateCmd, imageCmd, taskCmd)
}

/*
clientConfig layers the settings sources: environment, then config file,
then command line flags.
*/
func clientConfig() (dashscope.Config, error) {
	cfg := dashscope.NewConfig()

	if flagConfig != "" {
		f, err := config.Load(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = f.Apply(cfg)
		fileModel = f.Model
		if f.LogLevel != "" && !rootCmd.PersistentFlags().Changed("log-level") {
			flagLogLevel = f.LogLevel
		}
	}

	if flagAPIKey != "" {
		cfg = cfg.WithAPIKey(flagAPIKey)
	}
	if flagBaseURL != "" {
		cfg = cfg.WithBaseURL(flagBaseURL)
	}
	if flagWorkspace != "" {
		cfg = cfg.WithWorkspace(flagWorkspace)
	}
	if flagTimeout > 0 {
		cfg = cfg.WithTimeout(flagTimeout)
	}

	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return cfg, fmt.Errorf("invalid --log-level %q: %w", flagLogLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
	return cfg.WithLogger(logger), nil
}

// model resolves the model name: flag first, then config file.
func model() (string, error) {
	if flagModel != "" {
		return flagModel, nil
	}
	if fileModel != "" {
		return fileModel, nil
	}
	return "", fmt.Errorf("no model selected, pass --model or set one in the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dashscope:", err)
		os.Exit(1)
	}
}
