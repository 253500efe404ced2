package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultPlayer and DefaultArgs describe the audio-only shuffled player.
const DefaultPlayer = "mpv"

// DefaultArgs precede the playlist url on the player command line.
var DefaultArgs = []string{"--no-video", "--shuffle"}

// ExecConfig configures the process launcher.
type ExecConfig struct {
	Player string
	Args   []string
}

// ExecLauncher starts the player as a child process.
type ExecLauncher struct {
	player string
	args   []string
}

// NewExecLauncher returns a launcher, filling defaults for empty fields.
func NewExecLauncher(cfg ExecConfig) *ExecLauncher {
	player := strings.TrimSpace(cfg.Player)
	if player == "" {
		player = DefaultPlayer
	}
	args := cfg.Args
	if args == nil {
		args = DefaultArgs
	}
	return &ExecLauncher{player: player, args: append([]string(nil), args...)}
}

// Launch starts the player detached from ctx; the process outlives the
// request that started it.
func (l *ExecLauncher) Launch(ctx context.Context, playlistURL string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := append(append([]string(nil), l.args...), playlistURL)
	// #nosec G204 -- player and args come from operator configuration.
	cmd := exec.Command(l.player, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.player, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Stop() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", p.cmd.Process.Pid, err)
	}
	<-p.done
	return nil
}
