//go:build !linux

package probe

import (
	"context"
	"fmt"
	"log/slog"
)

// Manager is a stub on non-Linux platforms: the probe manager relies on
// epoll and the Linux socket error queue (spec.md §4.1, §6), neither of
// which this package emulates elsewhere. See DESIGN.md for why the
// teacher's Darwin/Windows build-tag fan-out was not carried forward.
type Manager struct{}

func New(remote, source string, cb Callback, log *slog.Logger) *Manager {
	return &Manager{}
}

func (m *Manager) Start() error {
	return fmt.Errorf("probe: unsupported platform (linux only)")
}

func (m *Manager) Stop() {}

func (m *Manager) Send(req Request) {}

func (m *Manager) Pending() int { return 0 }

func (m *Manager) DrainContext(ctx context.Context) error { return nil }
