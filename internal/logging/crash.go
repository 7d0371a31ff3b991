package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// CrashReport is written when the daemon panics mid-session. A dead
// proctor is itself integrity-relevant, so the report carries enough to
// tie the crash to the exam attempt.
type CrashReport struct {
	Timestamp time.Time `json:"timestamp"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	SessionID string `json:"session_id,omitempty"`
	ExamID    string `json:"exam_id,omitempty"`

	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace"`
}

// CrashHandler writes panic reports to a directory and keeps it bounded.
type CrashHandler struct {
	dir        string
	sessionID  string
	examID     string
	maxReports int
}

// NewCrashHandler creates a handler writing into dir.
func NewCrashHandler(dir, sessionID, examID string) *CrashHandler {
	return &CrashHandler{
		dir:        dir,
		sessionID:  sessionID,
		examID:     examID,
		maxReports: 10,
	}
}

// Recover is meant for deferred use at the top of a goroutine. It writes
// a report and re-panics so the process still dies loudly.
func (h *CrashHandler) Recover() {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, false)

	report := CrashReport{
		Timestamp:  time.Now().UTC(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		SessionID:  h.sessionID,
		ExamID:     h.examID,
		PanicValue: fmt.Sprintf("%v", r),
		StackTrace: string(buf[:n]),
	}
	if err := h.write(report); err != nil {
		fmt.Fprintf(os.Stderr, "writing crash report: %v\n", err)
	}

	panic(r)
}

func (h *CrashHandler) write(report CrashReport) error {
	if err := os.MkdirAll(h.dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("crash-%s.json", report.Timestamp.Format("20060102-150405.000"))
	if err := os.WriteFile(filepath.Join(h.dir, name), data, 0o600); err != nil {
		return err
	}

	h.prune()
	return nil
}

// prune drops the oldest reports beyond maxReports.
func (h *CrashHandler) prune() {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	if len(names) <= h.maxReports {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-h.maxReports] {
		os.Remove(filepath.Join(h.dir, name))
	}
}
