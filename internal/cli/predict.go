package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v3"

	"github.com/Brownie44l1/color-api/internal/decoder"
)

type predictOutput struct {
	Prediction string    `json:"prediction"`
	Features   []float64 `json:"features,omitempty"`
}

func (a *App) predictCmd() *cli.Command {
	return &cli.Command{
		Name:  "predict",
		Usage: "Predict the label of a local image without starting the server",
		Description: `Runs the same decode, feature extraction and prediction steps as
POST /predict against a file. The file may hold raw image bytes or a
data URI string ("data:image/png;base64,...").

# Examples

  color-api predict --image frame.png
  color-api predict --image payload.txt --show-features`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "Path to an image file or a file holding a data URI",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "show-features",
				Usage: "Include the computed feature vector in the output",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			extractor, err := newExtractor(cfg.Features)
			if err != nil {
				return err
			}

			raw, err := os.ReadFile(cmd.String("image"))
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			dec := decoder.Decoder{MaxPixels: cfg.Decoder.MaxPixels}
			var pixels decoder.Pixels
			if trimmed := bytes.TrimSpace(raw); bytes.HasPrefix(trimmed, []byte("data:")) {
				pixels, _, err = dec.Decode(string(trimmed))
			} else {
				pixels, _, err = dec.DecodeBytes(raw)
			}
			if err != nil {
				return err
			}

			vector, err := extractor.Extract(pixels)
			if err != nil {
				return err
			}

			classifier, release, err := a.Load(cfg.Model)
			if err != nil {
				return err
			}
			defer release()

			label, err := classifier.Predict(vector)
			if err != nil {
				return err
			}

			out := predictOutput{Prediction: label}
			if cmd.Bool("show-features") {
				out.Features = vector
			}
			return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(a.Stdout).Encode(out)
		},
	}
}
