// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pppoe is the PPPoE client actor (§4.8): one instance per WAN
// interface, managing pppd (with the rp-pppoe plugin, which itself owns
// the raw ETH_P_ALL discovery exchange) as an external process for the
// lifetime of the actor.
package pppoe

import (
	"context"
	"time"

	"landscape.router/core/internal/errors"
	"landscape.router/core/internal/logging"
	"landscape.router/core/internal/supervisor"
)

const restartBackoff = 5 * time.Second

// Config configures one PPPoE client instance.
type Config struct {
	Iface    string
	Username string
	Password string
	PPPdPath string // defaults to "pppd" on PATH when empty
}

// Process is a running pppd invocation. Wait blocks until the process
// exits and reports why; Stop requests graceful termination.
type Process interface {
	Wait() error
	Stop()
}

// ProcessStarter launches pppd for cfg, the seam that keeps the actor's
// restart-on-crash loop testable without spawning a real subprocess.
type ProcessStarter interface {
	Start(ctx context.Context, cfg Config) (Process, error)
}

// Actor is the supervisor.Actor implementation for one PPPoE client.
type Actor struct {
	starter ProcessStarter
}

// NewActor constructs an Actor launching pppd via starter.
func NewActor(starter ProcessStarter) *Actor {
	return &Actor{starter: starter}
}

// Initialize starts pppd for cfg and reports lifecycle transitions on the
// returned channel. A pppd exit while ctx is still live is treated as a
// crash and restarted after a backoff; an exit once ctx is cancelled
// reports a clean Stop.
func (a *Actor) Initialize(ctx context.Context, config any) (<-chan supervisor.Status, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "pppoe: config is %T, want pppoe.Config", config)
	}
	if cfg.Iface == "" {
		return nil, errors.New(errors.KindValidation, "pppoe: iface is required")
	}

	ch := make(chan supervisor.Status, 4)
	go a.run(ctx, cfg, ch)
	return ch, nil
}

func (a *Actor) run(ctx context.Context, cfg Config, ch chan<- supervisor.Status) {
	defer close(ch)
	defer func() { ch <- supervisor.StatusStop }()
	defer func() { ch <- supervisor.StatusStopping }()

	ch <- supervisor.StatusStarting
	reachedRunning := false

	for {
		proc, err := a.starter.Start(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn("pppoe: start pppd on %s failed: %v", cfg.Iface, err)
			if !sleepOrDone(ctx, restartBackoff) {
				return
			}
			continue
		}

		if !reachedRunning {
			ch <- supervisor.StatusRunning
			reachedRunning = true
		}

		waitErr := make(chan error, 1)
		go func() { waitErr <- proc.Wait() }()

		select {
		case <-ctx.Done():
			proc.Stop()
			<-waitErr
			return
		case err := <-waitErr:
			if err != nil {
				logging.Warn("pppoe: pppd on %s exited: %v", cfg.Iface, err)
			} else {
				logging.Warn("pppoe: pppd on %s exited unexpectedly", cfg.Iface)
			}
			if !sleepOrDone(ctx, restartBackoff) {
				return
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
