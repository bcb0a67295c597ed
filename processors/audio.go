package processors

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"videoInsight/core"
)

// Transcription API upload limit in megabytes.
const maxUploadMB = 25.0

// SegmentSpan is one planned slice of the audio timeline.
type SegmentSpan struct {
	Number  int
	StartMS int
	EndMS   int
}

// PlanSegments covers [0, durationMS) with dense, gap-free spans of
// segmentMS each; the last span carries the remainder.
func PlanSegments(durationMS, segmentMS int) []SegmentSpan {
	if durationMS <= 0 || segmentMS <= 0 {
		return nil
	}
	total := (durationMS + segmentMS - 1) / segmentMS
	spans := make([]SegmentSpan, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * segmentMS
		if end > durationMS {
			end = durationMS
		}
		spans[i] = SegmentSpan{Number: i, StartMS: i * segmentMS, EndMS: end}
	}
	return spans
}

// AudioSegmenter produces encoded audio for planned spans. Implementations
// must keep each produced segment under the transcription upload limit.
type AudioSegmenter interface {
	DurationMS(audioPath string) (int, error)
	// Extract materializes one span as an encoded audio file. The caller
	// owns the file and must remove it after consumption.
	Extract(audioPath, contentID string, span SegmentSpan) (string, error)
}

// FFmpegSegmenter extracts spans re-encoded mono at 16 kHz and a low
// bitrate so even the longest allowed segment stays well under the upload
// limit. Chunk files live under TempRoot/<contentID>.
type FFmpegSegmenter struct {
	Bitrate  string
	TempRoot string
}

func NewSegmenter(tempRoot, bitrate string) *FFmpegSegmenter {
	if bitrate == "" {
		bitrate = "32k"
	}
	return &FFmpegSegmenter{Bitrate: bitrate, TempRoot: tempRoot}
}

func (s *FFmpegSegmenter) DurationMS(audioPath string) (int, error) {
	return ProbeDurationMS(audioPath)
}

func (s *FFmpegSegmenter) Extract(audioPath, contentID string, span SegmentSpan) (string, error) {
	dir := filepath.Join(s.TempRoot, contentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create segment temp dir: %w", err)
	}
	outPath := filepath.Join(dir, fmt.Sprintf("chunk_%d.mp3", span.Number))

	args := []string{
		"-y",
		"-i", audioPath,
		"-ss", formatSeconds(span.StartMS),
		"-t", formatSeconds(span.EndMS - span.StartMS),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", s.Bitrate,
		outPath,
	}
	if err := runFFmpeg(args); err != nil {
		return "", fmt.Errorf("extract segment %d: %w", span.Number, err)
	}

	// Segmentation plus compression must keep every upload legal. A chunk
	// that still came out oversized gets trimmed to fit; losing its tail
	// beats losing the whole segment.
	if mb := FileSizeMB(outPath); mb > maxUploadMB {
		trimmed := filepath.Join(dir, fmt.Sprintf("chunk_%d_trimmed.mp3", span.Number))
		out, err := TrimToSizeLimit(outPath, trimmed, s.Bitrate)
		os.Remove(outPath)
		if err != nil {
			return "", fmt.Errorf("segment %d is %.1f MB: %w", span.Number, mb, core.ErrSizeExceeded)
		}
		return out, nil
	}
	return outPath, nil
}

func formatSeconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000.0, 'f', 3, 64)
}

func runFFmpeg(args []string) error {
	cmd := exec.Command("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg %v: %v: %s", args, err, truncateForLog(stderr.String()))
	}
	return nil
}

func truncateForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[len(s)-300:]
	}
	return s
}

// ProbeDurationMS reads the container duration via ffprobe.
func ProbeDurationMS(path string) (int, error) {
	cmd := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(out.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return int(sec * 1000), nil
}

// FileSizeMB returns the file size in megabytes, 0 when unreadable.
func FileSizeMB(path string) float64 {
	stat, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(stat.Size()) / (1024 * 1024)
}

// CompressAudio re-encodes a whole file mono/16kHz at the given bitrate.
// Applied once to oversized downloads before segmentation.
func CompressAudio(inputPath, outputPath, bitrate string) (string, error) {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", bitrate,
		outputPath,
	}
	if err := runFFmpeg(args); err != nil {
		return "", fmt.Errorf("compress audio: %w", err)
	}
	return outputPath, nil
}

// TrimToMinutes cuts the audio down to its first limitMinutes. Implements
// the "First N minutes" duration choice.
func TrimToMinutes(inputPath, outputPath string, limitMinutes int, bitrate string) (string, error) {
	args := []string{
		"-y",
		"-i", inputPath,
		"-t", strconv.Itoa(limitMinutes * 60),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", bitrate,
		outputPath,
	}
	if err := runFFmpeg(args); err != nil {
		return "", fmt.Errorf("trim audio: %w", err)
	}
	return outputPath, nil
}

// TrimToSizeLimit shortens the audio proportionally until it fits the
// upload limit. Last resort when re-encoding alone is not enough.
func TrimToSizeLimit(inputPath, outputPath, bitrate string) (string, error) {
	sizeMB := FileSizeMB(inputPath)
	if sizeMB <= maxUploadMB {
		return inputPath, nil
	}
	durMS, err := ProbeDurationMS(inputPath)
	if err != nil {
		return "", err
	}

	ratio := maxUploadMB / sizeMB
	keepSec := int(float64(durMS) / 1000.0 * ratio * 0.95)
	log.Printf("audio is %.1f MB, trimming to first %d seconds to fit the upload limit", sizeMB, keepSec)

	args := []string{
		"-y",
		"-i", inputPath,
		"-t", strconv.Itoa(keepSec),
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", bitrate,
		outputPath,
	}
	if err := runFFmpeg(args); err != nil {
		return "", fmt.Errorf("trim to size limit: %w", err)
	}
	return outputPath, nil
}
