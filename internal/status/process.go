package status

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/process"
)

// ReadProcessInfo samples CPU and resident memory of the current process.
func ReadProcessInfo() (*ProcessInfo, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("status: open process: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("status: cpu percent: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("status: memory info: %w", err)
	}
	return &ProcessInfo{CPUPercent: cpu, RSSBytes: mem.RSS}, nil
}
