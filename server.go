package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"videoInsight/core"
)

type IngestRequest struct {
	URL            string `json:"url"`
	DurationChoice string `json:"duration_choice,omitempty"`
}

type IngestResponse struct {
	ContentID   string  `json:"content_id"`
	ProcessedMB float64 `json:"processed_mb"`
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
}

type AskRequest struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url,omitempty"`
	Question  string `json:"question"`
	TopK      int    `json:"top_k,omitempty"`
	Model     string `json:"model,omitempty"`
}

type AskResponse struct {
	ContentID string     `json:"content_id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Evidence  []core.Hit `json:"evidence"`
}

type SummarizeRequest struct {
	ContentID string `json:"content_id"`
	URL       string `json:"url,omitempty"`
	Model     string `json:"model,omitempty"`
	Length    string `json:"length,omitempty"`
}

type SummarizeResponse struct {
	ContentID string `json:"content_id"`
	Summary   string `json:"summary"`
	Length    string `json:"length"`
}

func ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	result, err := pipeline.Ingest(r.Context(), req.URL, req.DurationChoice, logProgress)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, IngestResponse{Status: "failed", Message: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		ContentID:   result.ContentID,
		ProcessedMB: result.ProcessedMB,
		Status:      "ok",
	})
}

func askHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	contentID := resolveContentID(req.ContentID, req.URL)
	if contentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_id or url is required"})
		return
	}

	answer, evidence, err := pipeline.Answer(r.Context(), contentID, req.Question, req.TopK, req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, AskResponse{
		ContentID: contentID,
		Question:  req.Question,
		Answer:    answer,
		Evidence:  evidence,
	})
}

func summarizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	contentID := resolveContentID(req.ContentID, req.URL)
	if contentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_id or url is required"})
		return
	}

	length := core.SummaryLength(req.Length)
	switch length {
	case core.SummaryBrief, core.SummaryModerate, core.SummaryDetailed:
	case "":
		length = core.SummaryModerate
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown length %q", req.Length)})
		return
	}

	summary, err := pipeline.Summarize(r.Context(), contentID, req.Model, length)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SummarizeResponse{
		ContentID: contentID,
		Summary:   summary,
		Length:    string(length),
	})
}

func resolveContentID(contentID, url string) string {
	if contentID != "" {
		return contentID
	}
	if url != "" {
		return core.ContentID(url)
	}
	return ""
}

// logProgress is the server's progress sink: coarse milestones land in the
// process log.
func logProgress(stage string, percent float64, message string, etaSeconds float64) {
	if etaSeconds >= 0 {
		log.Printf("[%s] %.0f%% %s (eta %.0fs)", stage, percent, message, etaSeconds)
		return
	}
	log.Printf("[%s] %.0f%% %s", stage, percent, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}
