// Package youtube drives the yt-dlp binary to fetch video metadata
// and download audio for a single YouTube video.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hbomb79/Lyre/pkg/logger"
)

var log = logger.Get("YouTube")

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"
	acceptLanguage = "Accept-Language:en-US,en;q=0.9"
	referer        = "https://www.youtube.com"

	audioFormat      = "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio/best"
	FullAudioName    = "full_audio"
	progressPrefix   = "[lyre]"
	progressTemplate = "download:" + progressPrefix + " %(progress.downloaded_bytes)s %(progress.total_bytes,progress.total_bytes_estimate)s"
)

type (
	Config struct {
		BinaryPath     string `yaml:"ytdlp_binary" env:"YTDLP_BINARY_PATH" env-default:"yt-dlp"`
		CookiesB64     string `yaml:"cookies_b64" env:"YT_COOKIES_B64"`
		CookieFilePath string `yaml:"cookie_file" env:"YT_COOKIE_FILE" env-default:"/tmp/youtube_cookies.txt"`
		PlayerClient   string `yaml:"player_client" env:"YTDLP_PLAYER_CLIENT" env-default:"android"`
		AudioQuality   int    `yaml:"audio_quality" env:"YTDLP_AUDIO_QUALITY" env-default:"192"`
	}

	Chapter struct {
		Title     string  `json:"title"`
		StartTime float64 `json:"start_time"`
		EndTime   float64 `json:"end_time"`
	}

	Info struct {
		ID       string    `json:"id"`
		Title    string    `json:"title"`
		Duration float64   `json:"duration"`
		Chapters []Chapter `json:"chapters"`
	}

	// Progress is a single progress report from an ongoing yt-dlp download.
	Progress struct {
		Downloaded float64
		Total      float64
	}

	// Client is a thin wrapper around the yt-dlp binary. All requests are
	// made using the same browser-like headers and player client, with the
	// cookie file attached when one is configured.
	Client struct {
		config         Config
		cookieFile     string
		ffmpegLocation string
		runner         CommandRunner
	}
)

// NewClient constructs a yt-dlp client. The cookieFile may be empty, and the
// ffmpegLocation (the directory or path of the ffmpeg binary yt-dlp should use
// for audio extraction) may also be empty to let yt-dlp search the PATH.
func NewClient(config Config, cookieFile string, ffmpegLocation string, runner CommandRunner) *Client {
	if runner == nil {
		runner = ExecCommandRunner{}
	}

	return &Client{config: config, cookieFile: cookieFile, ffmpegLocation: ffmpegLocation, runner: runner}
}

// HasCookies returns true if this client attaches a cookie file to requests.
func (client *Client) HasCookies() bool { return client.cookieFile != "" }

// Version returns the version string reported by the yt-dlp binary.
func (client *Client) Version(ctx context.Context) (string, error) {
	out, err := client.runner.Run(ctx, client.config.BinaryPath, []string{"--version"}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to query yt-dlp version: %w", err)
	}

	return strings.TrimSpace(string(out)), nil
}

// FetchInfo retrieves the metadata for the video at the URL provided, without
// downloading any media. If the request fails while a cookie file is attached,
// the request is retried once without cookies as stale cookies are a common
// cause of extraction failures.
func (client *Client) FetchInfo(ctx context.Context, url string) (*Info, error) {
	args := []string{"--dump-single-json", "--skip-download"}

	out, err := client.runner.Run(ctx, client.config.BinaryPath, client.withCommonArgs(args, url, true), nil)
	if err != nil && client.HasCookies() && ctx.Err() == nil {
		log.Warnf("Fetching info for %s with cookies failed (%v), retrying without cookies\n", url, err)
		out, err = client.runner.Run(ctx, client.config.BinaryPath, client.withCommonArgs(args, url, false), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video info for %s: %w", url, err)
	}

	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to decode video info for %s: %w", url, err)
	}

	if strings.TrimSpace(info.Title) == "" {
		info.Title = url
	}

	return &info, nil
}

// DownloadAudio downloads the best available audio stream for the video and
// converts it to MP3, writing it to `<folder>/<name>.mp3`. Download progress
// is reported to the callback provided (which may be nil) whenever yt-dlp knows
// the total size of the download.
func (client *Client) DownloadAudio(ctx context.Context, url string, folder string, name string, onProgress func(Progress)) (string, error) {
	args := []string{
		"-f", audioFormat,
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", fmt.Sprintf("%dK", client.config.AudioQuality),
		"-o", filepath.Join(folder, name+".%(ext)s"),
		"--newline",
		"--progress-template", progressTemplate,
	}
	if client.ffmpegLocation != "" {
		args = append(args, "--ffmpeg-location", client.ffmpegLocation)
	}

	onLine := func(line string) {
		if onProgress == nil {
			return
		}

		if prog, ok := ParseProgressLine(line); ok {
			onProgress(prog)
		}
	}

	if _, err := client.runner.Run(ctx, client.config.BinaryPath, client.withCommonArgs(args, url, true), onLine); err != nil {
		return "", fmt.Errorf("failed to download audio for %s: %w", url, err)
	}

	output := filepath.Join(folder, name+".mp3")
	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("yt-dlp completed but expected output %s is missing: %w", output, err)
	}

	return output, nil
}

func (client *Client) withCommonArgs(args []string, url string, includeCookies bool) []string {
	out := append([]string{}, args...)
	out = append(out,
		"--geo-bypass",
		"--no-check-certificates",
		"--no-warnings",
		"--user-agent", userAgent,
		"--add-header", acceptLanguage,
		"--referer", referer,
	)
	if client.config.PlayerClient != "" {
		out = append(out, "--extractor-args", "youtube:player_client="+client.config.PlayerClient)
	}
	if includeCookies && client.HasCookies() {
		out = append(out, "--cookies", client.cookieFile)
	}

	return append(out, "--", url)
}

// ParseProgressLine parses a line printed by yt-dlp using Lyre's progress
// template. Lines which are not progress reports, or which do not carry a known
// total size, are rejected.
func ParseProgressLine(line string) (Progress, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) != 3 || fields[0] != progressPrefix {
		return Progress{}, false
	}

	downloaded, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Progress{}, false
	}

	total, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || total <= 0 {
		return Progress{}, false
	}

	return Progress{Downloaded: downloaded, Total: total}, true
}

// Fraction returns the completed fraction of this download, clamped to [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}

	return max(0, min(1, p.Downloaded/p.Total))
}

var errEmptyBinary = errors.New("yt-dlp binary path must not be empty")

// Validate ensures the configuration provided is usable.
func (config Config) Validate() error {
	if strings.TrimSpace(config.BinaryPath) == "" {
		return errEmptyBinary
	}
	if config.AudioQuality <= 0 || config.AudioQuality > 320 {
		return fmt.Errorf("audio quality %dK is out of range (1-320)", config.AudioQuality)
	}

	return nil
}
