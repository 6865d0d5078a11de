package uplink

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type MeasurementStore interface {
	Latest(devEUI string) (Measurement, error)
	Stats() (received, duplicates uint64)
}

// HealthFunc reports whether a dependency is usable.
type HealthFunc func() error

type Handler struct {
	store  MeasurementStore
	broker HealthFunc
	log    *logrus.Entry
}

func NewHandler(store MeasurementStore, broker HealthFunc, log *logrus.Entry) *Handler {
	return &Handler{store: store, broker: broker, log: log}
}

// InitializeRouter adds the gateway routes to r.
func InitializeRouter(r *mux.Router, store MeasurementStore, broker HealthFunc, log *logrus.Entry) {
	h := NewHandler(store, broker, log)
	r.HandleFunc("/healthcheck", h.HealthCheck).Methods("GET")
	r.HandleFunc("/nodes/{id}/latest", h.LatestMeasurement).Methods("GET")
}

type healthResponse struct {
	Status     string `json:"status"`
	Received   uint64 `json:"received"`
	Duplicates uint64 `json:"duplicates"`
	Error      string `json:"error,omitempty"`
}

// HealthCheck reports the broker link and the uplink counters.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	received, duplicates := h.store.Stats()
	resp := healthResponse{Status: "ok", Received: received, Duplicates: duplicates}
	status := http.StatusOK
	if h.broker != nil {
		if err := h.broker(); err != nil {
			h.log.WithError(err).Warn("health check failed")
			resp.Status = "unavailable"
			resp.Error = err.Error()
			status = http.StatusInternalServerError
		}
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) LatestMeasurement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := h.store.Latest(id)
	if errors.Is(err, ErrUnknownNode) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("latest measurement lookup failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.WithError(err).Error("response not written")
	}
}
