package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"irisapi/ml"
)

// PredictionResult echoes the parsed inputs next to the model's label. Absent
// inputs are encoded as null.
type PredictionResult struct {
	SepalLength *float64 `json:"slength"`
	SepalWidth  *float64 `json:"swidth"`
	PetalLength *float64 `json:"plength"`
	PetalWidth  *float64 `json:"pwidth"`
	Species     any      `json:"species"`
}

// PredictionHandler serves GET /prediction.
type PredictionHandler struct {
	source ml.Source
	logger *zap.Logger
}

func NewPredictionHandler(source ml.Source, logger *zap.Logger) *PredictionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictionHandler{source: source, logger: logger}
}

func (h *PredictionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", RequestID(r.Context())))

	features := parseFeatures(r.URL.Query(), logger)

	model, release, err := h.source.Acquire(r.Context())
	if err != nil {
		var loadErr *ml.ModelLoadError
		if errors.As(err, &loadErr) {
			logger.Error("model load failed", zap.String("path", loadErr.Path), zap.Error(loadErr.Err))
		} else {
			logger.Error("model unavailable", zap.Error(err))
		}
		writeInternalError(w)
		return
	}
	defer release()

	species, err := model.Predict(features.Values())
	if err != nil {
		logger.Error("inference failed", zap.Error(err), zap.Strings("missing", features.Missing()))
		writeInternalError(w)
		return
	}

	payload, err := json.Marshal(PredictionResult{
		SepalLength: features.SepalLength,
		SepalWidth:  features.SepalWidth,
		PetalLength: features.PetalLength,
		PetalWidth:  features.PetalWidth,
		Species:     species,
	})
	if err != nil {
		logger.Error("encode prediction", zap.Error(err), zap.Any("species", species))
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, append(payload, '\n'))
}

// parseFeatures reads the four optional query values. A value that is not a
// finite float becomes absent; the failure is logged and never fails the
// request.
func parseFeatures(query url.Values, logger *zap.Logger) ml.FeatureVector {
	names := ml.FeatureNames()
	parsed := make([]*float64, len(names))
	for i, name := range names {
		value, err := parseOptionalFloat(query, name)
		if err != nil {
			logger.Debug("feature ignored", zap.String("feature", name), zap.Error(err))
		}
		parsed[i] = value
	}
	return ml.FeatureVector{
		SepalLength: parsed[0],
		SepalWidth:  parsed[1],
		PetalLength: parsed[2],
		PetalWidth:  parsed[3],
	}
}

// parseOptionalFloat returns nil without error when name is absent.
func parseOptionalFloat(query url.Values, name string) (*float64, error) {
	if !query.Has(name) {
		return nil, nil
	}
	raw := query.Get(name)
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, fmt.Errorf("%s cannot be converted: %w", name, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%s cannot be converted: %q is not finite", name, raw)
	}
	return &value, nil
}
