package host

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const bytesPerMB = 1024 * 1024

// Detect builds a single-node profile for the machine this process runs on.
func Detect() (Profile, error) {
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		// gopsutil can fail inside minimal containers
		cores = runtime.NumCPU()
	}

	vmem, err := mem.VirtualMemory()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read system memory: %w", err)
	}

	name, err := os.Hostname()
	if err != nil {
		name = "localhost"
	}

	p := Profile{
		Name:         name,
		CoresPerNode: cores,
		MemPerNodeMB: int(vmem.Total / bytesPerMB),
		Scheduler:    SchedulerNone,
	}
	return p, p.Validate()
}
