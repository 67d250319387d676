package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type healthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	Results     int    `json:"results"`
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(app.StartTime).Truncate(time.Second).String(),
		Sessions:    app.Manager.Len(),
		Connections: app.Hub.Connections(),
		Results:     app.Results.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		app.Logger.Error("failed to write health response", zap.Error(err))
	}
}
