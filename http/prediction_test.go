package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"irisapi/ml"
)

const irisTreeFixture = "../ml/testdata/iris_tree.json"

type fakeModel struct {
	label any
	err   error
	seen  []float64
}

func (f *fakeModel) Predict(features []float64) (any, error) {
	f.seen = features
	return f.label, f.err
}

type fakeSource struct {
	model    ml.Predictor
	err      error
	released int
}

func (s *fakeSource) Acquire(context.Context) (ml.Predictor, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.model, func() { s.released++ }, nil
}

func (s *fakeSource) Close() error { return nil }

func serve(t *testing.T, handler http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var payload map[string]any
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid json %q: %v", w.Body.String(), err)
		}
	}
	return w, payload
}

func TestPredictionEchoesInputs(t *testing.T) {
	model := &fakeModel{label: "setosa"}
	source := &fakeSource{model: model}
	handler := NewHandler(source, zaptest.NewLogger(t))

	w, payload := serve(t, handler, "/prediction?slength=5.1&swidth=3.5&plength=1.4&pwidth=0.2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	want := map[string]float64{"slength": 5.1, "swidth": 3.5, "plength": 1.4, "pwidth": 0.2}
	for name, value := range want {
		if payload[name] != value {
			t.Fatalf("expected %s=%v, got %v", name, value, payload[name])
		}
	}
	if payload["species"] != "setosa" {
		t.Fatalf("unexpected species: %v", payload["species"])
	}
	if got := model.seen; len(got) != 4 || got[0] != 5.1 || got[3] != 0.2 {
		t.Fatalf("unexpected feature vector: %v", got)
	}
	if source.released != 1 {
		t.Fatalf("expected model released once, got %d", source.released)
	}
}

func TestPredictionInvalidFieldsBecomeNull(t *testing.T) {
	model := &fakeModel{label: int64(1)}
	core, logs := observer.New(zapcore.DebugLevel)
	handler := NewHandler(&fakeSource{model: model}, zap.New(core))

	w, payload := serve(t, handler, "/prediction?slength=abc&plength=4.5&pwidth=NaN&swidth=")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, name := range []string{"slength", "swidth", "pwidth"} {
		value, ok := payload[name]
		if !ok || value != nil {
			t.Fatalf("expected %s to be null, got %v (present=%v)", name, value, ok)
		}
	}
	if payload["plength"] != 4.5 {
		t.Fatalf("expected plength=4.5, got %v", payload["plength"])
	}
	if payload["species"] != float64(1) {
		t.Fatalf("unexpected species: %v", payload["species"])
	}

	seen := model.seen
	if !math.IsNaN(seen[0]) || !math.IsNaN(seen[1]) || seen[2] != 4.5 || !math.IsNaN(seen[3]) {
		t.Fatalf("expected NaN for absent slots, got %v", seen)
	}
	if n := logs.FilterMessage("feature ignored").Len(); n != 3 {
		t.Fatalf("expected 3 per-field parse reports, got %d", n)
	}
}

func TestPredictionUsesFirstValueAndTrimsSpace(t *testing.T) {
	model := &fakeModel{label: "x"}
	handler := NewHandler(&fakeSource{model: model}, zaptest.NewLogger(t))

	_, payload := serve(t, handler, "/prediction?slength=%205.0%20&slength=7&swidth=1e400")
	if payload["slength"] != 5.0 {
		t.Fatalf("expected first slength value, got %v", payload["slength"])
	}
	if payload["swidth"] != nil {
		t.Fatalf("expected overflowing swidth to be null, got %v", payload["swidth"])
	}
}

func TestPredictionModelLoadError(t *testing.T) {
	source := &fakeSource{err: &ml.ModelLoadError{Path: "/models/missing.json", Err: os.ErrNotExist}}
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := NewHandler(source, zap.New(core))

	w, _ := serve(t, handler, "/prediction?slength=5.1")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body := w.Body.String(); body != internalErrorBody+"\n" {
		t.Fatalf("expected opaque body, got %q", body)
	}
	entries := logs.FilterMessage("model load failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one load failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["path"] != "/models/missing.json" {
		t.Fatalf("expected path in log context, got %v", entries[0].ContextMap())
	}
}

func TestPredictionInferenceError(t *testing.T) {
	source := &fakeSource{model: &fakeModel{err: errors.New("bad input")}}
	handler := NewHandler(source, zaptest.NewLogger(t))

	w, _ := serve(t, handler, "/prediction")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if source.released != 1 {
		t.Fatalf("expected model released after failure, got %d", source.released)
	}
}

type panickingModel struct{}

func (panickingModel) Predict([]float64) (any, error) { panic("boom") }

func TestPredictionPanicIsRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := NewHandler(&fakeSource{model: panickingModel{}}, zap.New(core))

	w, _ := serve(t, handler, "/prediction")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}

	requests := logs.FilterMessage("request").All()
	if len(requests) != 1 {
		t.Fatalf("expected the panicking request to be logged once, got %d", len(requests))
	}
	if status := requests[0].ContextMap()["status"]; status != int64(http.StatusInternalServerError) {
		t.Fatalf("expected logged status 500, got %v", status)
	}
	panics := logs.FilterMessage("panic recovered").All()
	if len(panics) != 1 || panics[0].ContextMap()["request_id"] == "" {
		t.Fatalf("expected panic log carrying the request id, got %v", panics)
	}
}

func TestPredictionRejectsOtherMethods(t *testing.T) {
	handler := NewHandler(&fakeSource{model: &fakeModel{}}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/prediction?slength=1", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestPredictionWithFixtureModel(t *testing.T) {
	source := ml.NewFileSource(ml.ModelTypeAuto, irisTreeFixture, ml.LoaderOptions{})
	handler := NewHandler(source, zaptest.NewLogger(t))

	cases := []struct {
		name    string
		target  string
		species string
	}{
		{"small petals", "/prediction?slength=5.1&swidth=3.5&plength=1.4&pwidth=0.2", "setosa"},
		{"medium petals", "/prediction?slength=6.4&swidth=3.2&plength=4.5&pwidth=1.5", "versicolor"},
		{"all omitted", "/prediction", "virginica"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				w, payload := serve(t, handler, tc.target)
				if w.Code != http.StatusOK {
					t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
				}
				if payload["species"] != tc.species {
					t.Fatalf("call %d: expected %q, got %v", i, tc.species, payload["species"])
				}
			}
		})
	}
}

func TestPredictionMissingModelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	handler := NewHandler(ml.NewFileSource(ml.ModelTypeAuto, path, ml.LoaderOptions{}), zaptest.NewLogger(t))

	w, _ := serve(t, handler, "/prediction?slength=5.1&swidth=3.5&plength=1.4&pwidth=0.2")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
