package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	consts "github.com/khanhnv2901/netlab/internal/shared/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "NETLAB"

var cfgFile string

// AppContext carries the state shared by every subcommand once the root
// pre-run hook has loaded configuration.
type AppContext struct {
	Logger     *zap.Logger
	Config     *CLIConfig
	ResultsDir string
}

var globalAppContext *AppContext

var rootCmd = &cobra.Command{
	Use:           "netlab",
	Short:         "Network probe toolkit: port scan, TCP ping, banner grab and TLS inspection",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		applyConfigDefaults(cmd)

		resultsDir := cliConfig.ResultsDir
		if resultsDir == "" {
			resultsDir = "./results"
		}
		if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
		if abs, err := filepath.Abs(resultsDir); err == nil {
			resultsDir = abs
		}

		logger, err := newLogger(cliConfig.Log)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}

		storeAppContext(cmd, &AppContext{
			Logger:     logger,
			Config:     cliConfig,
			ResultsDir: resultsDir,
		})
		logger.Debug("configuration loaded",
			zap.String("config_file", viper.ConfigFileUsed()),
			zap.String("results_dir", resultsDir),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appCtx := getAppContext(cmd); appCtx != nil && appCtx.Logger != nil {
			_ = appCtx.Logger.Sync()
		}
	},
}

// initConfig points viper at the config file and environment. A missing
// default config file is not an error.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".netlab")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
}

func getAppContext(cmd *cobra.Command) *AppContext {
	return globalAppContext
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", colorError("Error:"), describeError(err))
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.netlab.yaml)")
	rootCmd.PersistentFlags().StringVar(&cliConfig.Log.Level, "log-level", cliConfig.Log.Level, "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&cliConfig.Telemetry, "telemetry", false, "append a telemetry record per run to <results_dir>/telemetry.jsonl")

	rootCmd.AddCommand(versionCmd)
}
