package sysinfo

import (
	"context"
	"runtime"
	"testing"
)

var sink []byte

func TestProcessMemory(t *testing.T) {
	// Touch 32 MiB so that the high water mark is well above zero.
	sink = make([]byte, 32<<20)
	for i := 0; i < len(sink); i += 4096 {
		sink[i] = 1
	}

	m, err := ProcessMemory(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if m.ResidentKB == 0 {
		t.Fatalf("%#v", m)
	}
	switch runtime.GOOS {
	case "linux", "darwin":
		if m.PeakKB < 32<<10 || m.PeakKB < m.ResidentKB {
			t.Fatalf("%#v", m)
		}
	}
	runtime.KeepAlive(sink)
}

func TestCores(t *testing.T) {
	t.Parallel()
	physical, logical, err := Cores(context.Background())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if logical < 1 || physical > logical {
		t.Fatalf("%d %d", physical, logical)
	}
}
