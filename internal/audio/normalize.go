// Package audio normalizes downloaded cassette tracks to EBU R128 loudness
// with a two-pass ffmpeg loudnorm and tags them with cassette metadata.
package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrNoMeasurement is returned when ffmpeg output lacks the loudnorm report.
var ErrNoMeasurement = errors.New("loudnorm measurement missing from ffmpeg output")

const loudnormMarker = "Parsed_loudnorm"

// Runner executes an external command and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// Targets are the loudnorm goals.
type Targets struct {
	IntegratedLUFS float64
	LoudnessRange  float64
	TruePeak       float64
}

// DefaultTargets match the broadcast profile.
var DefaultTargets = Targets{IntegratedLUFS: -23, LoudnessRange: 7, TruePeak: -2}

// Loudness is the first-pass measurement reported by ffmpeg.
type Loudness struct {
	InputI       float64 `json:"input_i,string"`
	InputTP      float64 `json:"input_tp,string"`
	InputLRA     float64 `json:"input_lra,string"`
	InputThresh  float64 `json:"input_thresh,string"`
	TargetOffset float64 `json:"target_offset,string"`
}

// Normalizer drives ffmpeg.
type Normalizer struct {
	ffmpeg  string
	targets Targets
	runner  Runner
	logger  *zap.Logger
}

// NewNormalizer builds a Normalizer. Empty ffmpeg means "ffmpeg" on PATH; a
// nil runner means ExecRunner.
func NewNormalizer(ffmpeg string, targets Targets, runner Runner, logger *zap.Logger) *Normalizer {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{ffmpeg: ffmpeg, targets: targets, runner: runner, logger: logger.Named("audio")}
}

// Measure runs the analysis pass over path.
func (n *Normalizer) Measure(ctx context.Context, path string) (Loudness, error) {
	filter := fmt.Sprintf("[0:0]loudnorm=i=%s:lra=%s:tp=%s:offset=0.0:print_format=json",
		fmtFloat(n.targets.IntegratedLUFS), fmtFloat(n.targets.LoudnessRange), fmtFloat(n.targets.TruePeak))
	_, stderr, err := n.runner.Run(ctx, n.ffmpeg,
		"-nostdin", "-nostats", "-y",
		"-i", path,
		"-filter_complex", filter,
		"-vn", "-sn",
		"-f", "null", os.DevNull,
	)
	if err != nil {
		return Loudness{}, fmt.Errorf("measure %s: %w", path, err)
	}
	return parseLoudness(stderr)
}

func parseLoudness(stderr []byte) (Loudness, error) {
	text := string(stderr)
	idx := strings.Index(text, loudnormMarker)
	if idx < 0 {
		return Loudness{}, ErrNoMeasurement
	}
	text = text[idx:]
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Loudness{}, ErrNoMeasurement
	}
	var l Loudness
	if err := json.Unmarshal([]byte(text[start:end+1]), &l); err != nil {
		return Loudness{}, fmt.Errorf("decode loudnorm report: %w", err)
	}
	return l, nil
}

// Correct runs the linear correction pass using a previous measurement and
// replaces path with the result.
func (n *Normalizer) Correct(ctx context.Context, path string, l Loudness) error {
	filter := fmt.Sprintf("[0:0]loudnorm=i=%s:lra=%s:tp=%s:offset=%s:"+
		"measured_i=%s:measured_lra=%s:measured_tp=%s:measured_thresh=%s:"+
		"linear=true:print_format=json[norm0]",
		fmtFloat(n.targets.IntegratedLUFS), fmtFloat(n.targets.LoudnessRange), fmtFloat(n.targets.TruePeak),
		fmtFloat(l.TargetOffset), fmtFloat(l.InputI), fmtFloat(l.InputLRA), fmtFloat(l.InputTP), fmtFloat(l.InputThresh))

	workdir, err := os.MkdirTemp(filepath.Dir(path), ".taped-ffmpeg-")
	if err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(workdir)
	}()
	ext := strings.ToLower(filepath.Ext(path))
	out := filepath.Join(workdir, "audio"+ext)

	if _, _, err := n.runner.Run(ctx, n.ffmpeg,
		"-nostdin", "-nostats", "-y",
		"-i", path,
		"-filter_complex", filter,
		"-map_metadata", "0",
		"-map_metadata:s:a:0", "0:s:a:0",
		"-map_chapters", "0",
		"-map", "[norm0]",
		"-c:a", codecFor(ext),
		"-vn", "-sn",
		out,
	); err != nil {
		return fmt.Errorf("correct %s: %w", path, err)
	}
	if err := os.Rename(out, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Normalize measures then corrects path in place.
func (n *Normalizer) Normalize(ctx context.Context, path string) (Loudness, error) {
	l, err := n.Measure(ctx, path)
	if err != nil {
		return Loudness{}, err
	}
	n.logger.Debug("measured loudness",
		zap.String("path", path),
		zap.Float64("input_i", l.InputI),
		zap.Float64("target_offset", l.TargetOffset),
	)
	if err := n.Correct(ctx, path, l); err != nil {
		return Loudness{}, err
	}
	return l, nil
}

func codecFor(ext string) string {
	switch ext {
	case ".mp3":
		return "libmp3lame"
	case ".opus", ".ogg":
		return "libopus"
	default:
		return "aac"
	}
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
