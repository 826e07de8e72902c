// Package ffmpeg cuts downloaded audio in to per-chapter files using the
// ffmpeg binary.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/Lyre/pkg/logger"
)

var (
	log = logger.Get("FFmpeg")

	ErrEmptySegment = errors.New("segment end must be after its start")
	ErrNoOutput     = errors.New("ffmpeg produced no output")

	messageMatcher = regexp.MustCompile(`(?s)message: ({.*})`)
)

type (
	Config struct {
		FfmpegBinaryPath  string `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY_PATH" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinaryPath string `yaml:"ffprobe_binary" env:"FFPROBE_BINARY_PATH" env-default:"/usr/bin/ffprobe"`
	}

	// Segment describes a span of the input, in seconds, to be copied to
	// the output path without re-encoding.
	Segment struct {
		Start  float64
		End    float64
		Output string
	}

	ProgressCallback func(transcoder.Progress)

	Splitter interface {
		Split(ctx context.Context, input string, segment Segment, onProgress ProgressCallback) error
		Duration(path string) (float64, error)
	}

	splitter struct{ config Config }
)

func NewSplitter(config Config) Splitter {
	return &splitter{config: config}
}

// Split copies the segment of the input to the segment's output path,
// replacing any file already there. The audio stream is copied as-is.
func (s *splitter) Split(ctx context.Context, input string, segment Segment, onProgress ProgressCallback) error {
	opts, err := SegmentOptions(segment)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(segment.Output), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", segment.Output, err)
	}

	// A leftover output from an earlier download would otherwise pass the
	// output check below even if ffmpeg never writes to it.
	if err := os.Remove(segment.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing output %s: %w", segment.Output, err)
	}

	cmdContext, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Emit(logger.DEBUG, "Splitting %s [%.2f -> %.2f] to %s\n", input, segment.Start, segment.End, segment.Output)
	progressChannel, err := ffmpeg.
		New(s.ffmpegConfig()).
		Input(input).
		Output(segment.Output).
		WithContext(&cmdContext).
		Start(opts)
	if err != nil {
		return parseFfmpegError(err)
	}

	for prog := range progressChannel {
		if onProgress != nil {
			onProgress(prog)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The progress channel closing does not carry the exit status of
	// ffmpeg, so the output is checked directly.
	stat, err := os.Stat(segment.Output)
	if err != nil || stat.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoOutput, segment.Output)
	}

	return nil
}

// Duration probes the file at the path given and returns its duration in seconds.
func (s *splitter) Duration(path string) (float64, error) {
	metadata, err := ffmpeg.New(s.ffmpegConfig()).Input(path).GetMetadata()
	if err != nil {
		return 0, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(metadata.GetFormat().GetDuration(), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported malformed duration for %s: %w", path, err)
	}

	return duration, nil
}

func (s *splitter) ffmpegConfig() *ffmpeg.Config {
	return &ffmpeg.Config{
		ProgressEnabled: true,
		FfmpegBinPath:   s.config.FfmpegBinaryPath,
		FfprobeBinPath:  s.config.FfprobeBinaryPath,
	}
}

// SegmentOptions constructs the ffmpeg options which copy the audio stream
// of the segment provided.
func SegmentOptions(segment Segment) (*ffmpeg.Options, error) {
	if segment.Start < 0 || segment.End <= segment.Start {
		return nil, fmt.Errorf("%w (start %.3f, end %.3f)", ErrEmptySegment, segment.Start, segment.End)
	}

	seek := formatSeconds(segment.Start)
	duration := formatSeconds(segment.End - segment.Start)
	codec := "copy"
	overwrite := true
	skipVideo := true

	return &ffmpeg.Options{
		SeekTime:   &seek,
		Duration:   &duration,
		AudioCodec: &codec,
		Overwrite:  &overwrite,
		SkipVideo:  &skipVideo,
	}, nil
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

// parseFfmpegError picks the relevant message out of ffmpeg's output, which
// otherwise carries a large amount of build information.
func parseFfmpegError(err error) error {
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) < 2 {
		return err
	}

	var out struct {
		Error struct {
			String string `json:"string"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil || out.Error.String == "" {
		return errors.New(groups[1])
	}

	return errors.New(out.Error.String)
}
