package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/CZERTAINLY/burnin/internal/log"
	"github.com/CZERTAINLY/burnin/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/burnin on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config // set once by initBurnin, commands pass it on by value

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "burnin")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is burnin.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initBurnin

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	// a signal cancels the run, the deferred cleanup of the run still happens
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	switch code {
	case 0:
	case model.ExitCodeStageFailed:
		slog.Warn("burn-in finished with failures", "err", err)
	default:
		slog.Error("burnin failed", "err", err)
	}
	os.Exit(code)
}

var rootCmd = &cobra.Command{
	Use:          "burnin",
	Short:        "Burn-in of a storage device: self-tests and a destructive surface scan",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a burnin",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("burnin: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("burnin: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

// stagesFailedError ends a run which reached the end of its plan with
// failed or timed-out stages.
type stagesFailedError struct {
	failed   int
	timedOut int
}

func (e stagesFailedError) Error() string {
	return fmt.Sprintf("%d stage(s) failed, %d timed out", e.failed, e.timedOut)
}

// exitCode maps the result of a command to the process exit code.
func exitCode(err error) int {
	var sf stagesFailedError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &sf):
		return model.ExitCodeStageFailed
	default:
		return 1
	}
}

func initBurnin(cmd *cobra.Command, _ []string) error {
	configPath = ""
	if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if envConfig := os.Getenv("BURNINCONFIG"); envConfig != "" {
		configPath = envConfig
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "burnin.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	var cfg model.Config
	// store default configuration
	if configPath == "" {
		cfg = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "burnin.yaml")
		if err := storeConfig(configPath, cfg); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err = model.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Verbose = true
	}
	config = cfg

	// initialize logging
	slog.SetDefault(log.New(os.Stderr, cfg.Verbose))

	slog.Debug("burnin run", "configPath", configPath)
	slog.Debug("burnin run", "config", cfg)
	return nil
}

func storeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
