package core

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

// ========== Basic data structures ==========

// Segment is one fixed-duration slice of the source audio with its
// transcript. Segment numbers form a dense 0-based sequence.
type Segment struct {
	Number     int       `json:"segment"`
	StartMS    int       `json:"start_time"`
	EndMS      int       `json:"end_time"`
	Transcript string    `json:"transcript"`
	CreatedAt  time.Time `json:"timestamp"`
}

// Chunk is one overlapping slice of the full transcript, the unit of
// semantic indexing and retrieval.
type Chunk struct {
	ContentID string `json:"content_id"`
	Index     int    `json:"index"`
	Content   string `json:"content"`
}

// Hit is a chunk returned from a similarity search together with its
// relevance score (higher is more relevant, cosine-style in [0,1]).
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SummaryLength selects how detailed a summary should be.
type SummaryLength string

const (
	SummaryBrief    SummaryLength = "Brief"
	SummaryModerate SummaryLength = "Moderate"
	SummaryDetailed SummaryLength = "Detailed"
)

// ========== Progress reporting ==========

// Progress receives coarse pipeline milestones plus per-segment updates
// during transcription. etaSeconds < 0 means no estimate is available.
// The transcriber invokes the sink from its worker goroutines, so
// implementations must be safe for concurrent use.
type Progress func(stage string, percent float64, message string, etaSeconds float64)

// NopProgress discards all updates.
func NopProgress(stage string, percent float64, message string, etaSeconds float64) {}

// EnsureProgress returns p, or NopProgress when p is nil, so pipeline code
// never has to nil-check its sink.
func EnsureProgress(p Progress) Progress {
	if p == nil {
		return NopProgress
	}
	return p
}

// ========== Errors ==========

var (
	// ErrNotFound means the source content is unavailable, private or
	// restricted. Fatal for the whole job.
	ErrNotFound = errors.New("content not found")
	// ErrCorruptAudio means downloaded or encoded audio failed validation.
	ErrCorruptAudio = errors.New("audio file corrupted")
	// ErrSizeExceeded means a single audio unit is over the transcription
	// API upload limit. Segmentation is supposed to prevent this.
	ErrSizeExceeded = errors.New("audio exceeds transcription size limit")
)

// ContentID derives the stable identifier for a source URL. Same URL,
// same id, always.
func ContentID(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
