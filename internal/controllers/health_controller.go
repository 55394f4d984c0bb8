package controllers

import (
	"context"
	"fmt"
	"freshanon/internal/services"
	json "github.com/goccy/go-json"
	"net/http"
	"time"
)

const healthStatsTimeout = 2 * time.Second

type HealthController struct {
	service   services.MatchServiceInterface
	startTime time.Time
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Waiting       int     `json:"waiting"`
	OpenSessions  int     `json:"open_sessions"`
	Searching     int     `json:"searching"`
	Error         string  `json:"error,omitempty"`
}

// Health reports 503 when the backing store cannot be read.
func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(hc.startTime)
	resp := healthResponse{
		Status:        "ok",
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), healthStatsTimeout)
	defer cancel()
	stats, err := hc.service.Stats(ctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Waiting = stats.Waiting
		resp.OpenSessions = stats.OpenSessions
		resp.Searching = stats.Searching
	}

	gson, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(gson)
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}

func NewHealthController(service services.MatchServiceInterface) *HealthController {
	return &HealthController{
		service:   service,
		startTime: time.Now(),
	}
}
