package core

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SegmentCache persists transcribed segments for long videos so an
// interrupted ingestion can resume without re-transcribing. One JSON file
// per (content, segment) plus a per-content metadata index. Safe for
// concurrent use: segment files are disjoint per caller, the shared
// metadata index is serialized by a mutex.
type SegmentCache struct {
	Dir string

	mu sync.Mutex // guards the metadata index files
}

type cacheMetadata struct {
	ContentID         string    `json:"content_id"`
	Segments          []int     `json:"segments"`
	SegmentsCompleted int       `json:"segments_completed"`
	LastUpdated       time.Time `json:"last_updated"`
}

// NewSegmentCache creates the cache directory if needed.
func NewSegmentCache(dir string) *SegmentCache {
	if dir == "" {
		dir = "./cache"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("failed to create cache dir %s: %v", dir, err)
	}
	return &SegmentCache{Dir: dir}
}

func (c *SegmentCache) segmentPath(contentID string, segment int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_segment_%d.json", contentID, segment))
}

func (c *SegmentCache) metadataPath(contentID string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_metadata.json", contentID))
}

// SaveSegment writes a transcribed segment and records it in the metadata
// index. Idempotent: saving the same segment number twice is an overwrite.
func (c *SegmentCache) SaveSegment(contentID string, segment, startMS, endMS int, transcript string) (string, error) {
	path := c.segmentPath(contentID, segment)

	data, err := json.Marshal(Segment{
		Number:     segment,
		StartMS:    startMS,
		EndMS:      endMS,
		Transcript: transcript,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write segment cache: %w", err)
	}

	c.updateMetadata(contentID, segment)
	return path, nil
}

// updateMetadata merges one segment number into the index. The whole
// read-merge-write runs under the mutex: concurrent SaveSegment calls from
// the transcriber's worker pool must not interleave on the shared file.
func (c *SegmentCache) updateMetadata(contentID string, latestSegment int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta := c.loadMetadata(contentID)
	if meta == nil {
		meta = &cacheMetadata{ContentID: contentID}
	}

	found := false
	for _, s := range meta.Segments {
		if s == latestSegment {
			found = true
			break
		}
	}
	if !found {
		meta.Segments = append(meta.Segments, latestSegment)
		sort.Ints(meta.Segments)
	}
	meta.SegmentsCompleted = len(meta.Segments)
	meta.LastUpdated = time.Now()

	data, err := json.Marshal(meta)
	if err == nil {
		err = os.WriteFile(c.metadataPath(contentID), data, 0644)
	}
	if err != nil {
		log.Printf("error updating cache metadata for %s: %v", contentID, err)
	}
}

func (c *SegmentCache) readMetadata(contentID string) *cacheMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadMetadata(contentID)
}

// loadMetadata returns nil on any read or parse error: a broken index
// degrades to a cache miss, never an aborted ingestion. Callers hold the
// mutex.
func (c *SegmentCache) loadMetadata(contentID string) *cacheMetadata {
	data, err := os.ReadFile(c.metadataPath(contentID))
	if err != nil {
		return nil
	}
	var meta cacheMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		log.Printf("corrupt cache metadata for %s: %v", contentID, err)
		return nil
	}
	return &meta
}

// CachedSegments returns every cached segment sorted by segment number.
// Missing or unreadable segment files are skipped.
func (c *SegmentCache) CachedSegments(contentID string) []Segment {
	meta := c.readMetadata(contentID)
	if meta == nil {
		return nil
	}

	segments := make([]Segment, 0, len(meta.Segments))
	for _, num := range meta.Segments {
		data, err := os.ReadFile(c.segmentPath(contentID, num))
		if err != nil {
			continue
		}
		var seg Segment
		if err := json.Unmarshal(data, &seg); err != nil {
			continue
		}
		segments = append(segments, seg)
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].Number < segments[j].Number })
	return segments
}

// CombineTranscripts joins all cached segments in segment order with single
// spaces. Returns ("", false) when nothing is cached. Gaps are possible
// when caching is partial; filling gaps with placeholders is the
// transcriber's job, not the cache's.
func (c *SegmentCache) CombineTranscripts(contentID string) (string, bool) {
	segments := c.CachedSegments(contentID)
	if len(segments) == 0 {
		return "", false
	}

	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = s.Transcript
	}
	return strings.Join(parts, " "), true
}

// IsFullyCached reports whether the cached segment numbers are exactly
// {0 .. totalSegments-1}.
func (c *SegmentCache) IsFullyCached(contentID string, totalSegments int) bool {
	meta := c.readMetadata(contentID)
	if meta == nil {
		return false
	}

	cached := make(map[int]bool, len(meta.Segments))
	for _, s := range meta.Segments {
		if s < 0 || s >= totalSegments {
			return false
		}
		cached[s] = true
	}
	return len(cached) == totalSegments
}
