package lifecycle

import (
	"sync"
	"time"
)

// ProgressSnapshot is an immutable view of an in-flight build.
type ProgressSnapshot struct {
	Files          int `json:"files"`
	Dirs           int `json:"dirs"`
	Errors         int `json:"errors"`
	ElapsedSeconds int `json:"elapsed_seconds"`
}

// BuildProgress provides thread-safe tracking of one build's walk.
type BuildProgress struct {
	mu sync.RWMutex

	files     int
	dirs      int
	errors    int
	startTime time.Time
}

func newBuildProgress() *BuildProgress {
	return &BuildProgress{startTime: time.Now()}
}

// Observe counts one indexed entry.
func (p *BuildProgress) Observe(isDir bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isDir {
		p.dirs++
	} else {
		p.files++
	}
}

// ObserveError counts one entry the walk could not read.
func (p *BuildProgress) ObserveError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errors++
}

// Snapshot returns an immutable copy of the current progress state.
func (p *BuildProgress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return ProgressSnapshot{
		Files:          p.files,
		Dirs:           p.dirs,
		Errors:         p.errors,
		ElapsedSeconds: int(time.Since(p.startTime).Seconds()),
	}
}
