package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tools.zach/dev/freezewatch/internal/collector"
)

// ///////////////////////////////////////////////
// Admin Endpoint
// ///////////////////////////////////////////////

// health is the body of GET /health.
type health struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Uptime    float64 `json:"uptimeSeconds"`
	Processes int     `json:"processes"`
	Delivery  bool    `json:"delivery"`
}

// adminRouter serves metrics and spool inspection. ctx bounds flushes
// started through POST /flush.
func (d *daemon) adminRouter(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", d.handleHealth).Methods("GET")
	r.HandleFunc("/reports", d.handleReports).Methods("GET")
	r.HandleFunc("/reports/{name}", d.handleReport).Methods("GET")
	r.HandleFunc("/flush", func(w http.ResponseWriter, req *http.Request) {
		d.handleFlush(ctx, w)
	}).Methods("POST")
	return r
}

func (d *daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, health{
		Status:    "ok",
		Version:   resolveVersion(),
		Uptime:    time.Since(d.started).Seconds(),
		Processes: d.server.Processes(),
		Delivery:  d.deliverer.Enabled(),
	})
}

func (d *daemon) handleReports(w http.ResponseWriter, _ *http.Request) {
	sums, err := d.spool.Summaries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": sums, "count": len(sums)})
}

func (d *daemon) handleReport(w http.ResponseWriter, r *http.Request) {
	e, err := d.spool.Load(mux.Vars(r)["name"])
	switch {
	case errors.Is(err, collector.ErrBadReportName):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusNotFound, err)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (d *daemon) handleFlush(ctx context.Context, w http.ResponseWriter) {
	res, err := d.flush(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write admin response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
