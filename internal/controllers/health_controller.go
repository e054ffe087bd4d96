package controllers

import (
	"fmt"
	"net/http"
	"time"

	"inboxd/internal/services"
)

type HealthController struct {
	service   services.InboxServiceInterface
	startTime time.Time
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Loading       bool    `json:"loading"`
	Entries       int     `json:"entries"`
	Unread        int     `json:"unread"`
	Version       uint64  `json:"version"`
}

func (hc *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(hc.startTime)
	loading := hc.service.Loading()
	status := "ok"
	if loading {
		status = "loading"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        status,
		Uptime:        formatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
		Loading:       loading,
		Entries:       len(hc.service.Feed()),
		Unread:        hc.service.UnreadCount(),
		Version:       hc.service.Version(),
	})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
}

func NewHealthController(service services.InboxServiceInterface) *HealthController {
	return &HealthController{
		service:   service,
		startTime: time.Now(),
	}
}
