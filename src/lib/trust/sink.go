package trust

import (
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// KlogSink is the default output.  Debug goes out at klog verbosity 2 and
// stats at verbosity 1, so -v on the command line picks them up.
type KlogSink struct{}

func (KlogSink) Output(l MaskLevel, depth int, msg string) {
	switch {
	case l&fatalMask > 0, l&ErrorMask > 0:
		klog.ErrorDepth(depth, msg)
	case l&WarnMask > 0:
		klog.WarningDepth(depth, msg)
	case l&InfoMask > 0:
		klog.InfoDepth(depth, msg)
	case l&DebugMask > 0:
		klog.V(2).InfoDepth(depth, msg)
	case l&StatsMask > 0:
		klog.V(1).InfoDepth(depth, msg)
	}
}

func (KlogSink) Flush() {
	klog.Flush()
}

// Line is one captured message.
type Line struct {
	Level MaskLevel
	Msg   string
}

// Recorder is a Sink that keeps everything in memory, used by tests to
// check what a driver said.
type Recorder struct {
	mu    sync.Mutex
	Lines []Line
}

func (r *Recorder) Output(l MaskLevel, _ int, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, Line{Level: l, Msg: msg})
}

// Contains reports whether a message at level l contains s.
func (r *Recorder) Contains(l MaskLevel, s string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.Lines {
		if line.Level&l != 0 && strings.Contains(line.Msg, s) {
			return true
		}
	}
	return false
}

// Count is the number of captured messages at level l.
func (r *Recorder) Count(l MaskLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, line := range r.Lines {
		if line.Level&l != 0 {
			n++
		}
	}
	return n
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = nil
}
