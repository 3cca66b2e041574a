// Package sysinfo reports the memory footprint of the current process and the host's cores.
package sysinfo

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// Memory is the memory usage of a process in KiB.
type Memory struct {
	ResidentKB uint64
	// PeakKB is the resident high water mark, zero where the platform does not track it.
	PeakKB uint64
}

// ProcessMemory returns the memory usage of the current process.
func ProcessMemory(ctx context.Context) (Memory, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return Memory{}, errors.Wrap(err, "")
	}
	mi, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Memory{}, errors.Wrap(err, "")
	}
	m := Memory{ResidentKB: mi.RSS / 1024}
	// gopsutil leaves HWM unset on Linux, so the peak comes from getrusage.
	m.PeakKB, err = peakKB()
	if err != nil {
		return Memory{}, errors.Wrap(err, "")
	}
	// The two counters are sampled separately.
	if m.PeakKB != 0 && m.PeakKB < m.ResidentKB {
		m.PeakKB = m.ResidentKB
	}
	return m, nil
}

// Cores returns the number of physical and logical cores.
func Cores(ctx context.Context) (physical, logical int, err error) {
	physical, err = cpu.CountsWithContext(ctx, false)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	logical, err = cpu.CountsWithContext(ctx, true)
	if err != nil {
		return 0, 0, errors.Wrap(err, "")
	}
	return physical, logical, nil
}
