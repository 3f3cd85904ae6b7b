// Package metrics is the thin instrumentation seam for the pipeline.
//
// Pipeline code records through the package-level helpers; a process-global
// Backend decides what happens to the measurements. The default backend
// discards everything, so importing this package costs nothing until a main
// wires a real backend (see internal/metrics/datadog).
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are the dimension key/values attached to one measurement.
type Labels map[string]string

// Backend receives measurements. Implementations must be safe for
// concurrent use; calls sit on request paths and should not block.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and can submit on demand.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs the process-global backend. A nil backend resets to
// the discarding default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks a buffering backend to submit now. Non-buffering backends
// flush trivially.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep records one pipeline step completion with its outcome
// ("ok" / "error") and duration.
func RecordStep(job, step, status string, d time.Duration) {
	labels := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter("presale_step_total", 1, labels)
	b.ObserveHistogram("presale_step_duration_seconds", d.Seconds(), labels)
}

// RecordRecords counts rows moved through the pipeline, partitioned by kind
// (e.g. "community", "transaction").
func RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter("presale_records_total", float64(n), Labels{"job": job, "kind": kind})
}

// RecordHTTP records one fetch attempt. status 0 means the request never
// produced a response (transport error). Negative durations and byte counts
// mean "not measured" and are dropped by backends.
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, bytes int64) {
	labels := Labels{"job": job, "status": strconv.Itoa(status)}
	b := current()
	b.IncCounter("presale_http_requests_total", 1, labels)
	if err != nil {
		b.IncCounter("presale_http_errors_total", 1, labels)
	}
	b.ObserveHistogram("presale_http_request_duration_seconds", reqDur.Seconds(), labels)
	b.ObserveHistogram("presale_http_response_duration_seconds", respDur.Seconds(), labels)
	b.ObserveHistogram("presale_http_download_bytes", float64(bytes), labels)
}
