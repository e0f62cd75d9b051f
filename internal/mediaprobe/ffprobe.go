package mediaprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Static errors for ffprobe operations.
var (
	// ErrNoStreams is returned when ffprobe reports no usable streams.
	ErrNoStreams = errors.New("mediaprobe: ffprobe returned no streams")
	// ErrNoDimensions is returned when no stream carries valid dimensions.
	ErrNoDimensions = errors.New("mediaprobe: ffprobe did not provide valid width/height")
)

// ProbeResult holds the intrinsic properties of a media input as
// reported by ffprobe.
type ProbeResult struct {
	// Width is the pixel width of the first video stream.
	Width int
	// Height is the pixel height of the first video stream.
	Height int
	// Duration is the container duration in seconds (0 for stills).
	Duration float64
}

// FFprobe runs metadata-only probes using the ffprobe CLI.
// It never decodes frames or triggers playback.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// Probe inspects the input (a local path or URL) and returns its
// intrinsic dimensions and duration.
func (p *FFprobe) Probe(ctx context.Context, input string) (ProbeResult, error) {
	cmd := exec.CommandContext(
		ctx,
		p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		input,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w: %s", input, err, stderr.String())
	}

	return parseProbeOutput(stdout.Bytes())
}

type ffprobeStream struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Duration string `json:"duration"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// parseProbeOutput extracts dimensions and duration from ffprobe's
// JSON output. The first stream with positive width and height wins.
func parseProbeOutput(data []byte) (ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return ProbeResult{}, ErrNoStreams
	}

	var result ProbeResult
	for _, s := range out.Streams {
		if s.Width > 0 && s.Height > 0 {
			result.Width = s.Width
			result.Height = s.Height
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil && d > 0 {
				result.Duration = d
			}
			break
		}
	}
	if result.Width == 0 || result.Height == 0 {
		return ProbeResult{}, ErrNoDimensions
	}

	// Container duration is more reliable than per-stream duration
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		result.Duration = d
	}

	return result, nil
}
