// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"landscape.router/core/internal/errors"
)

// pppdStarter launches pppd with the rp-pppoe plugin against cfg.Iface,
// authenticating with cfg.Username/cfg.Password via pppd's noauth-free
// PAP/CHAP secrets mechanism (passed inline rather than written to
// /etc/ppp/pap-secrets, since this process owns no shared system state).
type pppdStarter struct{}

// NewProcessStarter returns the production ProcessStarter, invoking the
// real pppd binary.
func NewProcessStarter() ProcessStarter {
	return pppdStarter{}
}

func (pppdStarter) Start(ctx context.Context, cfg Config) (Process, error) {
	path := cfg.PPPdPath
	if path == "" {
		path = "pppd"
	}
	args := []string{
		"plugin", "rp-pppoe.so",
		"nic-" + cfg.Iface,
		"user", cfg.Username,
		"password", cfg.Password,
		"noipdefault", "defaultroute", "replacedefaultroute",
		"usepeerdns", "persist", "nodetach",
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "pppoe: start pppd on %s", cfg.Iface)
	}
	return &pppdProcess{cmd: cmd}, nil
}

type pppdProcess struct {
	cmd *exec.Cmd
}

func (p *pppdProcess) Wait() error {
	return p.cmd.Wait()
}

// Stop sends SIGTERM and, if the process hasn't been reaped within 5s by
// whoever is waiting on it (the actor's own Wait call), escalates to
// SIGKILL. It never calls Wait itself: exec.Cmd.Wait must only be called
// once, and the caller already has a Wait in flight.
func (p *pppdProcess) Stop() {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	go func() {
		time.Sleep(5 * time.Second)
		_ = p.cmd.Process.Kill()
	}()
}
