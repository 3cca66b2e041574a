package sysinfo

import (
	"syscall"

	"github.com/pkg/errors"
)

func peakKB() (uint64, error) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, errors.Wrap(err, "")
	}
	// KiB on Linux.
	return uint64(ru.Maxrss), nil
}
