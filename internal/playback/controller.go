// Package playback owns the single external player process driven by the
// HTTP surface.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/taped/internal/catalog"
	"github.com/JakeFAU/taped/internal/metrics"
)

// ErrCassetteNotFound is returned by Play when the id is not in the
// published catalog.
var ErrCassetteNotFound = errors.New("cassette not found")

// Lookup resolves cassettes from the published catalog.
type Lookup interface {
	Cassette(id uuid.UUID) (catalog.Cassette, bool)
}

// Process is a running player.
type Process interface {
	// Stop terminates the process. A process that already exited counts as
	// stopped.
	Stop() error
}

// Launcher starts a player for a playlist url.
type Launcher interface {
	Launch(ctx context.Context, playlistURL string) (Process, error)
}

// Controller holds at most one live player. Every state transition happens
// under mu.
type Controller struct {
	lookup   Lookup
	launcher Launcher
	logger   *zap.Logger

	mu      sync.Mutex
	current Process
	playing uuid.UUID
}

// NewController wires a controller.
func NewController(lookup Lookup, launcher Launcher, logger *zap.Logger) (*Controller, error) {
	if lookup == nil {
		return nil, errors.New("cassette lookup is required")
	}
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		lookup:   lookup,
		launcher: launcher,
		logger:   logger.Named("playback"),
	}, nil
}

// Play stops the current player, if any, and starts one for the cassette.
// If the running player cannot be stopped its handle is kept and the error
// returned.
func (c *Controller) Play(ctx context.Context, id uuid.UUID) (catalog.Cassette, error) {
	cassette, ok := c.lookup.Cassette(id)
	if !ok {
		metrics.ObservePlayback("play", ErrCassetteNotFound)
		return catalog.Cassette{}, fmt.Errorf("%w: %s", ErrCassetteNotFound, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stopLocked(); err != nil {
		metrics.ObservePlayback("play", err)
		return catalog.Cassette{}, err
	}

	proc, err := c.launcher.Launch(ctx, cassette.YTURL)
	if err != nil {
		metrics.ObservePlayback("play", err)
		return catalog.Cassette{}, fmt.Errorf("launch player for %s: %w", id, err)
	}
	c.current = proc
	c.playing = id
	metrics.ObservePlayback("play", nil)
	c.logger.Info("playing cassette",
		zap.String("uuid", id.String()),
		zap.String("name", cassette.Name),
	)
	return cassette, nil
}

// Stop terminates the current player. Stopping while idle is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.stopLocked()
	metrics.ObservePlayback("stop", err)
	return err
}

// Playing reports the cassette currently playing.
func (c *Controller) Playing() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing, c.current != nil
}

func (c *Controller) stopLocked() error {
	if c.current == nil {
		return nil
	}
	if err := c.current.Stop(); err != nil {
		return fmt.Errorf("stop player for %s: %w", c.playing, err)
	}
	c.logger.Info("stopped cassette", zap.String("uuid", c.playing.String()))
	c.current = nil
	c.playing = uuid.Nil
	return nil
}
