package http

import (
	"encoding/json"
	"net/http"
)

const internalErrorBody = `{"error":"internal server error"}`

func RegisterHandlers(mux *http.ServeMux, prediction *PredictionHandler) {
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /prediction", prediction)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

// writeInternalError sends the one opaque failure body the service exposes.
func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, []byte(internalErrorBody+"\n"))
}
