package capture

import (
	"strconv"
	"sync"
)

// DefaultDevtoolsDelta is the viewport delta, in pixels, above which a
// docked developer-tools panel is suspected. The check is approximate:
// browser chrome, zoom, and window managers all shift the delta, so the
// threshold is configurable and detections are low confidence.
const DefaultDevtoolsDelta = 160

// devtoolsDetector watches outer-vs-inner viewport deltas. It fires on the
// rising edge only: one detection per suspected open, not one per sample,
// so event-driven and polled samples cannot double-count a single open.
type devtoolsDetector struct {
	mu        sync.Mutex
	threshold int
	open      bool
}

func newDevtoolsDetector(threshold int) *devtoolsDetector {
	if threshold <= 0 {
		threshold = DefaultDevtoolsDelta
	}
	return &devtoolsDetector{threshold: threshold}
}

// observe evaluates one viewport sample. When the heuristic fires it
// returns detail fields describing the triggering delta.
func (d *devtoolsDetector) observe(vm ViewportMetrics) (bool, map[string]string) {
	widthDelta := vm.OuterWidth - vm.InnerWidth
	heightDelta := vm.OuterHeight - vm.InnerHeight

	d.mu.Lock()
	defer d.mu.Unlock()

	over := widthDelta > d.threshold || heightDelta > d.threshold
	if !over {
		d.open = false
		return false, nil
	}
	if d.open {
		return false, nil
	}
	d.open = true

	return true, map[string]string{
		"heuristic":    "viewport_delta",
		"width_delta":  strconv.Itoa(widthDelta),
		"height_delta": strconv.Itoa(heightDelta),
		"threshold":    strconv.Itoa(d.threshold),
	}
}

// reset clears the open state at session start.
func (d *devtoolsDetector) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
}
