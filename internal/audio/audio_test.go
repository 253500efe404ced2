package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bogem/id3v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'test-audio.m4a':
  Duration: 00:00:05.00, start: 0.000000, bitrate: 130 kb/s
[Parsed_loudnorm_0 @ 0x55d5c1e0]
{
	"input_i" : "-14.00",
	"input_tp" : "-0.16",
	"input_lra" : "1.10",
	"input_thresh" : "-24.03",
	"output_i" : "-23.17",
	"output_tp" : "-9.36",
	"output_lra" : "1.00",
	"output_thresh" : "-33.19",
	"normalization_type" : "dynamic",
	"target_offset" : "0.35"
}
`

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	stderr []byte
	err    error
	// onRun lets a test create the output file ffmpeg would write.
	onRun func(args []string) error
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, call{name: name, args: args})
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.stderr, r.err
	}
	if r.onRun != nil {
		if err := r.onRun(args); err != nil {
			return nil, nil, err
		}
	}
	return nil, r.stderr, nil
}

func TestParseLoudness(t *testing.T) {
	t.Parallel()

	l, err := parseLoudness([]byte(sampleReport))
	require.NoError(t, err)
	assert.Equal(t, Loudness{
		InputI:       -14.0,
		InputTP:      -0.16,
		InputLRA:     1.1,
		InputThresh:  -24.03,
		TargetOffset: 0.35,
	}, l)
}

func TestParseLoudnessMissingMarker(t *testing.T) {
	t.Parallel()

	_, err := parseLoudness([]byte("ffmpeg version 6.0\n"))
	assert.ErrorIs(t, err, ErrNoMeasurement)
}

func TestMeasureBuildsAnalysisCommand(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{stderr: []byte(sampleReport)}
	n := NewNormalizer("/usr/bin/ffmpeg", DefaultTargets, runner, nil)

	l, err := n.Measure(context.Background(), "track.m4a")
	require.NoError(t, err)
	assert.InDelta(t, -14.0, l.InputI, 1e-9)

	require.Len(t, runner.calls, 1)
	c := runner.calls[0]
	assert.Equal(t, "/usr/bin/ffmpeg", c.name)
	joined := strings.Join(c.args, " ")
	assert.Contains(t, joined, "loudnorm=i=-23:lra=7:tp=-2:offset=0.0:print_format=json")
	assert.Contains(t, joined, "-i track.m4a")
	assert.Contains(t, joined, "-f null")
}

func TestMeasurePropagatesRunnerError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("exit status 1")}
	_, err := NewNormalizer("", DefaultTargets, runner, nil).Measure(context.Background(), "x.m4a")
	require.Error(t, err)
	assert.Equal(t, "ffmpeg", runner.calls[0].name)
}

func TestNormalizeReplacesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "track.m4a")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o600))

	runner := &fakeRunner{
		stderr: []byte(sampleReport),
		onRun: func(args []string) error {
			out := args[len(args)-1]
			if out == os.DevNull {
				return nil
			}
			return os.WriteFile(out, []byte("normalized"), 0o600)
		},
	}
	n := NewNormalizer("ffmpeg", DefaultTargets, runner, nil)

	_, err := n.Normalize(context.Background(), path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "normalized", string(data))

	require.Len(t, runner.calls, 2)
	joined := strings.Join(runner.calls[1].args, " ")
	assert.Contains(t, joined, "measured_i=-14:measured_lra=1.1:measured_tp=-0.16:measured_thresh=-24.03")
	assert.Contains(t, joined, "offset=0.35")
	assert.Contains(t, joined, "linear=true")
	assert.Contains(t, joined, "-c:a aac")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "work dir must be removed")
}

func TestCorrectFailureKeepsOriginal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o600))

	runner := &fakeRunner{err: errors.New("exit status 1")}
	err := NewNormalizer("ffmpeg", DefaultTargets, runner, nil).Correct(context.Background(), path, Loudness{})
	require.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.Contains(t, strings.Join(runner.calls[0].args, " "), "-c:a libmp3lame")
}

func TestTagWritesFrames(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "01.mp3")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfb, 0x90, 0x00}, 0o600))

	err := Tag(path, Tags{
		Title: "Σιγά σιγά",
		Album: "Νερό",
		Track: 1,
		Total: 12,
		Cover: []byte{0xff, 0xd8, 0xff},
	})
	require.NoError(t, err)

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()
	assert.Equal(t, "Σιγά σιγά", tag.Title())
	assert.Equal(t, "Νερό", tag.Album())
	assert.Equal(t, "1/12", tag.GetTextFrame(tag.CommonID("Track number/Position in set")).Text)
	assert.Len(t, tag.GetFrames(tag.CommonID("Attached picture")), 1)
}

func TestTagRejectsNonMP3(t *testing.T) {
	t.Parallel()

	err := Tag(filepath.Join(t.TempDir(), "track.m4a"), Tags{Title: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
