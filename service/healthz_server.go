package service

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testbridge/collector"
)

// StatusSource is what the healthz endpoint reports on. *collector.Collector
// implements it.
type StatusSource interface {
	RunID() string
	Port() int
	State() collector.State
}

// Status is the body of a healthz response
type Status struct {
	RunID string `json:"run_id"`
	Port  int    `json:"port"`
	State string `json:"state"`
}

type HealthzServer struct {
	log    log.Logger
	source StatusSource
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)

	state := h.source.State()
	w.Header().Set("Content-Type", "application/json")
	if state == collector.StateFailed {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(Status{
		RunID: h.source.RunID(),
		Port:  h.source.Port(),
		State: state.String(),
	})
}
