// Package profiling wraps runtime profiling for the CLI's profile
// flags. Long index builds and daemon runs are the usual subjects.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
)

// Profiler starts and collects runtime profiles.
type Profiler struct{}

// NewProfiler creates a new Profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU starts CPU profiling into path. The returned cleanup stops
// profiling and flushes the file; calling it more than once is safe.
func (p *Profiler) StartCPU(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	return stopOnce(func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}), nil
}

// StartTrace starts execution tracing into path. The returned cleanup
// stops tracing; calling it more than once is safe.
func (p *Profiler) StartTrace(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}
	return stopOnce(func() {
		trace.Stop()
		_ = f.Close()
	}), nil
}

// stopOnce makes a cleanup idempotent.
func stopOnce(stop func()) func() {
	var once sync.Once
	return func() { once.Do(stop) }
}

// WriteHeap writes a point-in-time heap profile, collecting garbage
// first so the snapshot shows live index memory rather than walk
// transients.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// WriteGoroutine writes stack traces of all current goroutines,
// handy when a watcher or search stream looks stuck.
func (p *Profiler) WriteGoroutine(path string) error {
	return p.writeLookup("goroutine", path, 1)
}

// WriteAllocs writes the cumulative allocations profile.
func (p *Profiler) WriteAllocs(path string) error {
	runtime.GC()
	return p.writeLookup("allocs", path, 0)
}

func (p *Profiler) writeLookup(name, path string, debug int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}

// MemStats returns current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}

// FormatBytes formats a byte count for humans, e.g. "96.00 MB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %s", float64(n)/float64(div), []string{"KB", "MB", "GB", "TB"}[exp])
}
