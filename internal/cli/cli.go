package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/Brownie44l1/color-api/internal/config"
	"github.com/Brownie44l1/color-api/internal/features"
	"github.com/Brownie44l1/color-api/internal/logging"
	"github.com/Brownie44l1/color-api/internal/model"
)

const (
	name           = "color-api"
	versionDefault = "dev"
)

var (
	// overridden during build with ldflags
	// e.g., -X "github.com/Brownie44l1/color-api/internal/cli.version=1.0.0"
	version = versionDefault
	commit  = "unknown"
	date    = "unknown"
)

// Loader loads the classifier once at startup and returns a release func.
type Loader func(cfg config.ModelConfig) (model.Classifier, func(), error)

// App wires the command tree to its collaborators.
type App struct {
	Load   Loader
	Listen func(network, address string) (net.Listener, error)
	Stdout io.Writer
}

func NewApp() *App {
	return &App{
		Load:   LoadONNX,
		Listen: net.Listen,
		Stdout: os.Stdout,
	}
}

// LoadONNX is the default Loader backed by ONNX Runtime.
func LoadONNX(cfg config.ModelConfig) (model.Classifier, func(), error) {
	c, err := model.Load(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// Execute runs the CLI and exits non-zero on error. Called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewApp().Command().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// Command returns the root command.
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:           name,
		Usage:          "Serve average-color image predictions from a pre-trained classifier",
		Version:        fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Writer:         a.Stdout,
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("COLOR_API_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides log.level",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Path to the ONNX model artifact; overrides model.path",
			},
			&cli.StringFlag{
				Name:  "metadata",
				Usage: "Path to the model metadata (JSON or YAML); overrides model.metadata_path",
			},
			&cli.StringFlag{
				Name:  "runtime-library",
				Usage: "Path to the ONNX Runtime shared library; overrides model.runtime_library",
			},
		},
		Commands: []*cli.Command{
			a.serveCmd(),
			a.predictCmd(),
			a.versionCmd(),
		},
	}
}

func (a *App) versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(_ context.Context, _ *cli.Command) error {
			_, err := fmt.Fprintf(a.Stdout, "%s %s\ncommit: %s\nbuilt:  %s\n", name, version, commit, date)
			return err
		},
	}
}

// loadConfig reads configuration and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("model") {
		cfg.Model.Path = cmd.String("model")
	}
	if cmd.IsSet("metadata") {
		cfg.Model.MetadataPath = cmd.String("metadata")
	}
	if cmd.IsSet("runtime-library") {
		cfg.Model.RuntimeLibrary = cmd.String("runtime-library")
	}

	return cfg, cfg.Validate()
}

func newExtractor(cfg config.FeaturesConfig) (features.Extractor, error) {
	order, err := features.ParseOrder(cfg.ChannelOrder)
	if err != nil {
		return features.Extractor{}, err
	}
	return features.Extractor{Order: order, MaxDimension: cfg.MaxDimension}, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return log, nil
}
