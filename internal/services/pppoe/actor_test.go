// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"landscape.router/core/internal/supervisor"
)

type fakeProcess struct {
	mu      sync.Mutex
	exit    chan error
	stopped bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exit: make(chan error, 1)}
}

func (p *fakeProcess) Wait() error {
	return <-p.exit
}

func (p *fakeProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.exit <- nil
	}
}

func (p *fakeProcess) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeStarter struct {
	mu        sync.Mutex
	processes []*fakeProcess
	startErr  error
}

func (s *fakeStarter) Start(ctx context.Context, cfg Config) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		err := s.startErr
		s.startErr = nil
		return nil, err
	}
	p := newFakeProcess()
	s.processes = append(s.processes, p)
	return p, nil
}

func (s *fakeStarter) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processes)
}

func TestInitializeRejectsWrongConfigType(t *testing.T) {
	a := NewActor(&fakeStarter{})
	_, err := a.Initialize(context.Background(), "nope")
	require.Error(t, err)
}

func TestInitializeReachesRunningOnSuccessfulStart(t *testing.T) {
	starter := &fakeStarter{}
	a := NewActor(starter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch, err := a.Initialize(ctx, Config{Iface: "wan0"})
	require.NoError(t, err)

	require.Equal(t, supervisor.StatusStarting, <-watch)
	require.Equal(t, supervisor.StatusRunning, <-watch)
	require.Equal(t, 1, starter.startCount())
}

func TestPppdCrashRestartsProcess(t *testing.T) {
	starter := &fakeStarter{}
	a := NewActor(starter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watch, err := a.Initialize(ctx, Config{Iface: "wan0"})
	require.NoError(t, err)
	require.Equal(t, supervisor.StatusStarting, <-watch)
	require.Equal(t, supervisor.StatusRunning, <-watch)

	require.Eventually(t, func() bool { return starter.startCount() == 1 }, time.Second, time.Millisecond)
	starter.mu.Lock()
	first := starter.processes[0]
	starter.mu.Unlock()
	first.exit <- errors.New("pppd: link terminated")

	require.Eventually(t, func() bool { return starter.startCount() == 2 }, restartBackoff+2*time.Second, 5*time.Millisecond)
}

func TestInitializeStopsProcessOnContextCancel(t *testing.T) {
	starter := &fakeStarter{}
	a := NewActor(starter)

	ctx, cancel := context.WithCancel(context.Background())
	watch, err := a.Initialize(ctx, Config{Iface: "wan0"})
	require.NoError(t, err)
	require.Equal(t, supervisor.StatusStarting, <-watch)
	require.Equal(t, supervisor.StatusRunning, <-watch)

	cancel()
	require.Equal(t, supervisor.StatusStopping, <-watch)
	require.Equal(t, supervisor.StatusStop, <-watch)
	_, open := <-watch
	require.False(t, open)

	starter.mu.Lock()
	proc := starter.processes[0]
	starter.mu.Unlock()
	require.True(t, proc.wasStopped())
}
