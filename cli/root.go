package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"driftwatch/config"
	"driftwatch/engine"
	"driftwatch/logger"
	"driftwatch/output"
	"driftwatch/version"
)

// ErrCheckFailed is returned by check after it printed an ERROR report.
var ErrCheckFailed = errors.New("check could not compare against the baseline")

// App carries what the commands share. Engine collaborators left zero use
// the system defaults.
type App struct {
	Stdout io.Writer
	Engine engine.Options

	flags *config.Flags
}

func NewRootCmd(app *App) *cobra.Command {
	if app == nil {
		app = &App{}
	}
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}

	cmd := &cobra.Command{
		Use:           "driftwatch",
		Short:         "File integrity baseline and drift detection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.flags = config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewBuildCmd(app))
	cmd.AddCommand(NewCheckCmd(app))
	cmd.AddCommand(NewVersionCmd(app))

	cmd.SetVersionTemplate(fmt.Sprintf("%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = version.Version
	return cmd
}

// session is one configured run: the engine plus what must be released after.
type session struct {
	cfg      *config.Config
	engine   *engine.Engine
	exporter *output.Exporter
	logFile  io.Closer
}

func (app *App) open() (*session, error) {
	cfg, err := app.flags.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logFile, err := logger.Setup(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	if cfg.ConfigFile != "" {
		logger.Debugf("Loaded configuration from %s", cfg.ConfigFile)
	}

	exporter, err := output.NewExporter(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
		exporter = nil
	}

	opts := app.Engine
	if opts.Exporter == nil && exporter != nil {
		opts.Exporter = exporter
	}
	eng, err := engine.New(cfg, opts)
	if err != nil {
		exporter.Shutdown()
		logFile.Close()
		return nil, err
	}
	return &session{cfg: cfg, engine: eng, exporter: exporter, logFile: logFile}, nil
}

func (s *session) Close() {
	s.exporter.Shutdown()
	s.logFile.Close()
}
