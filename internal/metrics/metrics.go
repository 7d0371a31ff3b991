// Package metrics exposes proctord runtime state in Prometheus text
// format on the loopback API. Only counters and gauges are needed; the
// interesting distributions live in the audit trail, not here.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.value.Add(n)
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// GaugeFunc samples a value at scrape time. Used for state the session
// loop already owns, so scraping never contends with it.
type GaugeFunc struct {
	name string
	help string
	fn   func() float64
}

// Registry holds the daemon's metrics.
type Registry struct {
	mu       sync.RWMutex
	prefix   string
	counters map[string]*Counter
	gauges   map[string]*GaugeFunc
}

// NewRegistry creates a registry. All metric names get the prefix.
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix:   prefix,
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*GaugeFunc),
	}
}

func (r *Registry) fullName(name string) string {
	if r.prefix == "" {
		return name
	}
	return r.prefix + "_" + name
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: full, help: help}
	r.counters[full] = c
	return c
}

// RegisterGauge registers a sampled gauge. Re-registering a name
// replaces the sampler.
func (r *Registry) RegisterGauge(name, help string, fn func() float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	r.gauges[full] = &GaugeFunc{name: full, help: help, fn: fn}
}

// WritePrometheus writes all metrics in Prometheus text format, sorted
// by name so scrapes are diffable.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.counters)+len(r.gauges))
	for name := range r.counters {
		names = append(names, name)
	}
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if c, ok := r.counters[name]; ok {
			fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(w, "%s %d\n", c.name, c.Value())
			continue
		}
		g := r.gauges[name]
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(w, "%s %g\n", g.name, g.fn())
	}
	return nil
}

// Handler returns an HTTP handler serving the text exposition.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WritePrometheus(w)
	})
}
