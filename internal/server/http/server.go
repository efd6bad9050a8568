package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/registry"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/options"
)

// ReadyFunc reports whether the process can serve traffic.
type ReadyFunc func(ctx context.Context) error

// FleetStats provides the statistics served on /fleet/stats.
type FleetStats interface {
	Stats(ctx context.Context) (registry.Stats, error)
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, ready ReadyFunc, fleet FleetStats) *Server {
	return &Server{
		server: &http.Server{
			Addr:         opts.Addr,
			Handler:      NewRouter(ready, fleet),
			ReadTimeout:  opts.Timeout,
			WriteTimeout: opts.Timeout,
		},
		options: opts,
	}
}

// NewRouter builds the ops routes: probes, metrics and fleet statistics.
func NewRouter(ready ReadyFunc, fleet FleetStats) *mux.Router {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/fleet/stats", func(w http.ResponseWriter, req *http.Request) {
		if fleet == nil {
			http.Error(w, "no fleet registry", http.StatusNotFound)
			return
		}
		stats, err := fleet.Stats(req.Context())
		if err != nil {
			log.Warn("Failed to collect fleet stats", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, newStatsResponse(stats))
	}).Methods(http.MethodGet)

	return r
}

type statsResponse struct {
	Total          int       `json:"total"`
	Connected      int       `json:"connected"`
	Reconnecting   int       `json:"reconnecting"`
	Offline        int       `json:"offline"`
	Moving         int       `json:"moving"`
	Unlocked       int       `json:"unlocked"`
	Faulted        int       `json:"faulted"`
	LowBattery     int       `json:"low_battery"`
	AverageBattery float64   `json:"average_battery"`
	ConnectionRate float64   `json:"connection_rate"`
	OfflineIDs     []string  `json:"offline_ids"`
	CollectedAt    time.Time `json:"collected_at"`
}

func newStatsResponse(s registry.Stats) statsResponse {
	offline := s.OfflineIDs
	if offline == nil {
		offline = []string{}
	}
	return statsResponse{
		Total:          s.Total,
		Connected:      s.Connected,
		Reconnecting:   s.Reconnecting,
		Offline:        s.Offline,
		Moving:         s.Moving,
		Unlocked:       s.Unlocked,
		Faulted:        s.Faulted,
		LowBattery:     s.LowBattery,
		AverageBattery: s.AverageBattery,
		ConnectionRate: s.ConnectionRate(),
		OfflineIDs:     offline,
		CollectedAt:    s.CollectedAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}

	log.Info("Starting HTTP Server", "addr", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
