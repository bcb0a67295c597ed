package processors

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"videoInsight/core"
)

// Downloader fetches the audio track of a remote video to a local file.
type Downloader interface {
	Download(url, outputDir string) (string, error)
}

// YtDlpDownloader shells out to yt-dlp for the bestaudio stream, extracted
// to MP3. Browser cookies are tried first to dodge bot checks, then the
// download is retried without them.
type YtDlpDownloader struct {
	CookiesFromBrowser string
}

func NewDownloader() *YtDlpDownloader {
	return &YtDlpDownloader{CookiesFromBrowser: os.Getenv("COOKIES_FROM_BROWSER")}
}

func (d *YtDlpDownloader) Download(url, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	outPath := filepath.Join(outputDir, "audio.mp3")

	args := d.args(url, outPath, d.CookiesFromBrowser)
	if err := runYtDlp(args); err != nil {
		if d.CookiesFromBrowser != "" {
			log.Printf("download with browser cookies failed (%v), retrying without", err)
			if retryErr := runYtDlp(d.args(url, outPath, "")); retryErr != nil {
				return "", classifyDownloadError(retryErr)
			}
		} else {
			return "", classifyDownloadError(err)
		}
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("audio file not found after download, video may be private or restricted: %w", core.ErrNotFound)
	}

	// Probe the result so corrupt downloads fail here, not mid-transcription.
	if _, err := ProbeDurationMS(outPath); err != nil {
		return "", fmt.Errorf("downloaded audio failed validation: %w", core.ErrCorruptAudio)
	}

	return outPath, nil
}

func (d *YtDlpDownloader) args(url, outPath, cookiesFromBrowser string) []string {
	args := []string{
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"--audio-quality", "192K",
		"-o", strings.TrimSuffix(outPath, ".mp3") + ".%(ext)s",
		"--no-playlist",
		"-q",
	}
	if cookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", cookiesFromBrowser)
	}
	return append(args, url)
}

func runYtDlp(args []string) error {
	cmd := exec.Command("yt-dlp", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("yt-dlp: %v: %s", err, truncateForLog(stderr.String()))
	}
	return nil
}

func classifyDownloadError(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"private", "unavailable", "removed", "404", "members-only", "sign in"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("failed to download audio: %v: %w", err, core.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to download audio: %w", err)
}
