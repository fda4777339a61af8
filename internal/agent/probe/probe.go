// Package probe reads foreground window and input-idle state from the
// desktop session, and host identity for device registration.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"
)

// Observation is one sample of what the user is doing.
type Observation struct {
	AppName     string
	WindowTitle string
	IdleFor     time.Duration
}

// ErrUnsupported is returned when the session has no queryable display.
var ErrUnsupported = errors.New("probe: no supported display session")

// Runner executes an external helper and returns its trimmed stdout.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// ExecRunner runs helpers with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ProcessNamer resolves a pid to an executable name.
type ProcessNamer func(ctx context.Context, pid int32) (string, error)

// ProcessName looks the pid up with gopsutil.
func ProcessName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

// X11 samples an X session through xdotool and xprintidle.
type X11 struct {
	run  Runner
	name ProcessNamer
}

// NewX11 returns a probe backed by the given helpers. Nil arguments use
// ExecRunner and ProcessName.
func NewX11(run Runner, name ProcessNamer) *X11 {
	if run == nil {
		run = ExecRunner
	}
	if name == nil {
		name = ProcessName
	}
	return &X11{run: run, name: name}
}

// Observe returns the focused window and how long input has been idle.
func (x *X11) Observe(ctx context.Context) (Observation, error) {
	var obs Observation

	pidOut, err := x.run(ctx, "xdotool", "getactivewindow", "getwindowpid")
	if err != nil {
		return obs, errors.Join(ErrUnsupported, err)
	}
	pid, err := strconv.ParseInt(pidOut, 10, 32)
	if err != nil {
		return obs, fmt.Errorf("probe: parse pid %q: %w", pidOut, err)
	}
	if obs.AppName, err = x.name(ctx, int32(pid)); err != nil {
		return obs, fmt.Errorf("probe: process name: %w", err)
	}

	if obs.WindowTitle, err = x.run(ctx, "xdotool", "getactivewindow", "getwindowname"); err != nil {
		return obs, err
	}

	idleOut, err := x.run(ctx, "xprintidle")
	if err != nil {
		return obs, err
	}
	ms, err := strconv.ParseInt(idleOut, 10, 64)
	if err != nil {
		return obs, fmt.Errorf("probe: parse idle %q: %w", idleOut, err)
	}
	obs.IdleFor = time.Duration(ms) * time.Millisecond
	return obs, nil
}

// Host identifies the machine for device registration.
type Host struct {
	Name     string
	Platform string
}

// HostInfo reads the hostname and OS through gopsutil.
func HostInfo(ctx context.Context) (Host, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return Host{}, err
	}
	platform := info.OS
	if info.Platform != "" {
		platform = info.OS + "/" + info.Platform
	}
	return Host{Name: info.Hostname, Platform: platform}, nil
}
