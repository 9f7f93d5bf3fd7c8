package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/decoder"
	"github.com/Brownie44l1/color-api/internal/features"
	"github.com/Brownie44l1/color-api/internal/logging"
	"github.com/Brownie44l1/color-api/internal/metrics"
	"github.com/Brownie44l1/color-api/internal/model"
	"github.com/Brownie44l1/color-api/internal/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultMaxBodyBytes = 10 << 20

type Handler struct {
	classifier   model.Classifier
	decoder      ImageDecoder
	extractor    FeatureExtractor
	validate     *validator.Validate
	log          *logrus.Logger
	metrics      *metrics.Metrics
	maxBodyBytes int64
}

type Option func(*Handler)

func WithDecoder(d ImageDecoder) Option {
	return func(h *Handler) {
		h.decoder = d
	}
}

func WithExtractor(e FeatureExtractor) Option {
	return func(h *Handler) {
		h.extractor = e
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler builds the prediction handler around an already loaded classifier.
func NewHandler(classifier model.Classifier, opts ...Option) *Handler {
	h := &Handler{
		classifier:   classifier,
		decoder:      decoder.Decoder{},
		extractor:    features.Extractor{Order: features.OrderRGB},
		validate:     validator.New(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logging.Discard()
	}
	if h.metrics == nil {
		h.metrics = metrics.New(nil)
	}
	return h
}

// Predict handles POST /predict. The body is either JSON
// {"image": "<prefix>,<base64>"} or a multipart form with an "image" file.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, r, apperr.New(apperr.KindMethodNotAllowed, fmt.Sprintf("method %s is not allowed, use POST", r.Method)))
		return
	}

	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	label, err := h.predict(r)
	h.metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.metrics.PredictionsTotal.WithLabelValues(label).Inc()
	h.log.WithFields(logrus.Fields{
		logging.RequestIDKey: server.RequestID(r.Context()),
		"prediction":         label,
		"duration":           time.Since(start).String(),
	}).Debug("prediction served")

	server.RespondJSON(w, http.StatusOK, PredictionResponse{Prediction: label})
}

func (h *Handler) predict(r *http.Request) (string, error) {
	pixels, err := h.readImage(r)
	if err != nil {
		return "", err
	}

	vector, err := h.extractor.Extract(pixels)
	if err != nil {
		return "", err
	}

	label, err := h.classifier.Predict(vector)
	if err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			err = apperr.Wrap(apperr.KindInternal, "prediction failed", err)
		}
		return "", err
	}
	return label, nil
}

func (h *Handler) readImage(r *http.Request) (decoder.Pixels, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.readMultipart(r)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return decoder.Pixels{}, bodyError(err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return decoder.Pixels{}, apperr.New(apperr.KindBadRequest, "request body is empty")
	}

	var req PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return decoder.Pixels{}, apperr.Wrap(apperr.KindBadRequest, "request body must be a JSON object", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return decoder.Pixels{}, apperr.Wrap(apperr.KindBadRequest, `request is missing the "image" field`, err)
	}

	pixels, _, err := h.decoder.Decode(req.Image)
	return pixels, err
}

func (h *Handler) readMultipart(r *http.Request) (decoder.Pixels, error) {
	if err := r.ParseMultipartForm(h.maxBodyBytes); err != nil {
		return decoder.Pixels{}, bodyError(err)
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		return decoder.Pixels{}, apperr.Wrap(apperr.KindBadRequest, `multipart request is missing the "image" file`, err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return decoder.Pixels{}, bodyError(err)
	}

	pixels, _, err := h.decoder.DecodeBytes(raw)
	return pixels, err
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Wrap(apperr.KindBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
	}
	return apperr.Wrap(apperr.KindBadRequest, "failed to read request body", err)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	h.metrics.PredictionErrors.WithLabelValues(string(kind)).Inc()

	entry := h.log.WithFields(logrus.Fields{
		logging.RequestIDKey: server.RequestID(r.Context()),
		"kind":               kind,
		"error":              err.Error(),
	})
	if apperr.HTTPStatus(kind) >= http.StatusInternalServerError {
		entry.Error("prediction failed")
	} else {
		entry.Warn("prediction rejected")
	}

	server.WriteError(w, err)
}
