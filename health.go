package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"videoInsight/config"
)

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
}

type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

type SystemInfo struct {
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	checks := map[string]HealthCheck{
		"ffmpeg":    checkCommandHealth("ffmpeg", "-version"),
		"ffprobe":   checkCommandHealth("ffprobe", "-version"),
		"yt-dlp":    checkCommandHealth("yt-dlp", "--version"),
		"api":       checkAPIConfigHealth(),
		"cache_dir": checkDirHealth(),
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if check.Status == "error" {
			overallStatus = "unhealthy"
			break
		}
		if check.Status == "warning" && overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	log.Printf("Health check completed in %v, status: %s", time.Since(start), overallStatus)
	writeJSON(w, statusCode, HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
		System: SystemInfo{
			OS:           runtime.GOOS,
			Arch:         runtime.GOARCH,
			GoVersion:    runtime.Version(),
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
		},
	})
}

func checkCommandHealth(name string, arg string) HealthCheck {
	start := time.Now()
	if err := exec.Command(name, arg).Run(); err != nil {
		return HealthCheck{Status: "error", Message: fmt.Sprintf("%s not available: %v", name, err)}
	}
	return HealthCheck{Status: "ok", Latency: time.Since(start).Milliseconds()}
}

func checkAPIConfigHealth() HealthCheck {
	cfg, err := config.LoadConfig()
	if err != nil {
		return HealthCheck{Status: "error", Message: err.Error()}
	}
	if !cfg.HasValidAPI() {
		return HealthCheck{Status: "warning", Message: "no API key configured, running with mock providers"}
	}
	return HealthCheck{Status: "ok"}
}

func checkDirHealth() HealthCheck {
	cfg, err := config.LoadConfig()
	if err != nil {
		return HealthCheck{Status: "error", Message: err.Error()}
	}
	probe := filepath.Join(cfg.CacheDir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return HealthCheck{Status: "error", Message: fmt.Sprintf("cache dir not writable: %v", err)}
	}
	os.Remove(probe)
	return HealthCheck{Status: "ok"}
}
