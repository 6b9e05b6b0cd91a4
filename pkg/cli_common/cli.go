package clicommon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/klothoplatform/free-courses-infra/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type CommonConfig struct {
	Verbose   LevelledFlag
	JsonLog   bool
	Color     string
	LogsDir   string
	ProfileTo string

	HadWarnings *atomic.Bool
	HadErrors   *atomic.Bool
}

func setupProfiling(commonCfg *CommonConfig) func() {
	if commonCfg.ProfileTo != "" {
		err := os.MkdirAll(filepath.Dir(commonCfg.ProfileTo), 0755)
		if err != nil {
			panic(fmt.Errorf("failed to create profile directory: %w", err))
		}
		profileF, err := os.OpenFile(commonCfg.ProfileTo, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open profile file: %w", err))
		}
		err = pprof.StartCPUProfile(profileF)
		if err != nil {
			panic(fmt.Errorf("failed to start profile: %w", err))
		}
		return func() {
			pprof.StopCPUProfile()
			profileF.Close()
		}
	}
	return func() {}
}

// LogOpts are the logging options selected by the common flags. A verbosity of 2 or more also shows the
// debug output of the chattier loggers.
func (commonCfg *CommonConfig) LogOpts() logging.LogOpts {
	opts := logging.LogOpts{
		Verbose:         commonCfg.Verbose > 0,
		Color:           commonCfg.Color,
		CategoryLogsDir: commonCfg.LogsDir,
		HadWarnings:     commonCfg.HadWarnings,
		HadErrors:       commonCfg.HadErrors,
	}
	if commonCfg.Verbose < 2 {
		opts.DefaultLevels = map[string]zapcore.Level{
			"construct": zap.InfoLevel,
			"live":      zap.InfoLevel,
		}
	}
	if commonCfg.JsonLog {
		opts.Encoding = "json"
	}
	return opts
}

func SetupRoot(root *cobra.Command, commonCfg *CommonConfig) {
	if commonCfg.HadWarnings == nil {
		commonCfg.HadWarnings = atomic.NewBool(false)
	}
	if commonCfg.HadErrors == nil {
		commonCfg.HadErrors = atomic.NewBool(false)
	}

	flags := root.PersistentFlags()
	flags.VarP(&commonCfg.Verbose, "verbose", "v", "Enable verbose logging, repeat for more")
	flags.Lookup("verbose").NoOptDefVal = "true"
	flags.BoolVar(&commonCfg.JsonLog, "json-log", false, "Enable JSON logging and JSON error output")
	flags.StringVar(&commonCfg.Color, "color", "auto", "Colorize output: auto, always or never")
	flags.StringVar(&commonCfg.LogsDir, "logs-dir", "", "Directory to write per-logger logs to")
	flags.StringVar(&commonCfg.ProfileTo, "profiling", "", "Profile to file")

	profileClose := func() {}

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		zap.ReplaceGlobals(commonCfg.LogOpts().NewLogger())

		profileClose = setupProfiling(commonCfg)
	}

	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		zap.L().Sync() //nolint:errcheck

		profileClose()
	}
}
