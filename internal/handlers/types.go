package handlers

import "github.com/Brownie44l1/color-api/internal/decoder"

// PredictionRequest is the JSON body of POST /predict.
type PredictionRequest struct {
	Image string `json:"image" validate:"required"`
}

// PredictionResponse is the success body of POST /predict.
type PredictionResponse struct {
	Prediction string `json:"prediction"`
}

// ImageDecoder turns request payloads into pixel arrays.
type ImageDecoder interface {
	Decode(payload string) (decoder.Pixels, string, error)
	DecodeBytes(raw []byte) (decoder.Pixels, string, error)
}

// FeatureExtractor turns a pixel array into the classifier's input vector.
type FeatureExtractor interface {
	Extract(p decoder.Pixels) ([]float64, error)
}
