package main

import (
	"log"
	"net/http"
	"os"

	"videoInsight/config"
	"videoInsight/processors"
)

var pipeline *processors.Pipeline

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		log.Fatalf("failed to create cache dir: %v", err)
	}

	pipeline = processors.NewPipeline(cfg)
	backend := os.Getenv("STORE")
	if backend == "" {
		backend = "memory"
	}
	log.Printf("Pipeline initialized, vector store backend: %s", backend)

	// Routes
	http.HandleFunc("/ingest", ingestHandler)
	http.HandleFunc("/ask", askHandler)
	http.HandleFunc("/summarize", summarizeHandler)
	http.HandleFunc("/health", healthCheckHandler)

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}
	log.Printf("Server listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
