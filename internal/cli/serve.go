package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/config"
	"github.com/Brownie44l1/color-api/internal/decoder"
	"github.com/Brownie44l1/color-api/internal/handlers"
	"github.com/Brownie44l1/color-api/internal/metrics"
	"github.com/Brownie44l1/color-api/internal/server"
)

func (a *App) serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Load the model and serve POST /predict",
		Description: `Loads the model artifact once, then serves:

  POST /predict   {"image": "<prefix>,<base64>"} -> {"prediction": "<label>"}

Health, readiness and Prometheus metrics are served on the admin port:

  GET /healthz, GET /readyz, GET /metrics

The process exits without binding any port if the model cannot be loaded.

# Examples

  color-api serve --model models/model.onnx --metadata models/model_metadata.json
  COLOR_API_SERVER__PORT=9000 color-api serve --config config.yaml`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Address to bind the API listener to; overrides server.address",
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "API listener port; overrides server.port",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:  "admin-port",
				Usage: "Admin listener port, 0 disables it; overrides admin.port",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("address") {
				cfg.Server.Address = cmd.String("address")
			}
			if cmd.IsSet("port") {
				cfg.Server.Port = int(cmd.Int("port"))
			}
			if cmd.IsSet("admin-port") {
				cfg.Admin.Port = int(cmd.Int("admin-port"))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return a.serve(ctx, cfg)
		},
	}
}

// serve loads the classifier before any listener is created, so a load
// failure never leaves a port bound.
func (a *App) serve(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"name":    name,
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("starting")

	extractor, err := newExtractor(cfg.Features)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"model":    cfg.Model.Path,
		"metadata": cfg.Model.MetadataPath,
	}).Info("loading model")

	classifier, release, err := a.Load(cfg.Model)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindModelLoad {
			err = apperr.Wrap(apperr.KindModelLoad, "failed to load model", err)
		}
		log.WithError(err).Error("failed to load model")
		return err
	}
	defer release()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	h := handlers.NewHandler(classifier,
		handlers.WithDecoder(decoder.Decoder{MaxPixels: cfg.Decoder.MaxPixels}),
		handlers.WithExtractor(extractor),
		handlers.WithLogger(log),
		handlers.WithMetrics(m),
		handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	srv := server.New(cfg.Server, cfg.Admin,
		server.WithRoute("/predict", h.Predict),
		server.WithLogger(log),
		server.WithMetrics(m, reg),
		server.WithListenFunc(a.Listen),
	)

	return srv.Run(ctx)
}
