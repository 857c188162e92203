// Package infra implements infrastructure concerns (process, network, storage, transport).
package infra

import (
	"context"
	"net"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// ProcessListerImpl implements domain.ProcessLister using gopsutil.
type ProcessListerImpl struct{}

// NewProcessLister creates a new process lister.
func NewProcessLister() domain.ProcessLister {
	return &ProcessListerImpl{}
}

// ListNames returns the names of all running processes.
func (pl *ProcessListerImpl) ListNames(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue // Process may have exited or be unreadable
		}
		names = append(names, name)
	}

	return names, nil
}

// Ensure ProcessListerImpl implements domain.ProcessLister.
var _ domain.ProcessLister = (*ProcessListerImpl)(nil)

// ConnectionListerImpl implements domain.ConnectionLister using gopsutil.
type ConnectionListerImpl struct {
	skipLoopback bool
}

// NewConnectionLister creates a new connection lister.
func NewConnectionLister(skipLoopback bool) domain.ConnectionLister {
	return &ConnectionListerImpl{skipLoopback: skipLoopback}
}

// Established returns established inet connections that have a remote address.
func (cl *ConnectionListerImpl) Established(ctx context.Context) ([]domain.Connection, error) {
	stats, err := psnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}
	return filterEstablished(stats, cl.skipLoopback), nil
}

func filterEstablished(stats []psnet.ConnectionStat, skipLoopback bool) []domain.Connection {
	conns := make([]domain.Connection, 0, len(stats))
	for _, s := range stats {
		if s.Status != "ESTABLISHED" || s.Raddr.IP == "" {
			continue
		}
		if skipLoopback {
			if ip := net.ParseIP(s.Raddr.IP); ip != nil && ip.IsLoopback() {
				continue
			}
		}
		conns = append(conns, domain.Connection{
			PID:        s.Pid,
			RemoteIP:   s.Raddr.IP,
			RemotePort: s.Raddr.Port,
		})
	}
	return conns
}

// Ensure ConnectionListerImpl implements domain.ConnectionLister.
var _ domain.ConnectionLister = (*ConnectionListerImpl)(nil)
