//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"proctord/internal/capture"
	"proctord/internal/debounce"
	"proctord/internal/escalation"
	"proctord/internal/fullscreen"
	"proctord/internal/ledger"
	"proctord/internal/reconcile"
	"proctord/internal/session"
	"proctord/internal/violation"
)

const testCredential = "integration-test-credential"

// envOptions tune the wiring for one scenario.
type envOptions struct {
	policy         violation.Policy
	debounceWindow time.Duration
	duration       time.Duration
	retryDelay     time.Duration

	// withServer starts a fake exam server and wires a reconcile client.
	withServer bool

	// seedViolations is the count the fake server reports on session start.
	seedViolations int
}

func defaultOptions() envOptions {
	return envOptions{
		policy:         violation.DefaultPolicy(),
		debounceWindow: debounce.DefaultWindow,
		duration:       time.Hour,
		retryDelay:     10 * time.Millisecond,
	}
}

// examServer is a minimal stand-in for the exam backend.
type examServer struct {
	mu sync.Mutex

	seedViolations int
	terminate      bool
	reported       []map[string]any
	fullscreen     []bool
}

func (s *examServer) handler(examID string) http.Handler {
	mux := http.NewServeMux()
	prefix := "/exams/" + examID

	mux.HandleFunc("GET "+prefix+"/violations", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"totalViolations":      s.seedViolations,
			"terminationThreshold": 3,
		})
	})
	mux.HandleFunc("POST "+prefix+"/violations", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.reported = append(s.reported, body)
		json.NewEncoder(w).Encode(map[string]any{
			"violationCount":  s.seedViolations + len(s.reported),
			"shouldTerminate": s.terminate,
		})
	})
	mux.HandleFunc("POST "+prefix+"/fullscreen", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IsFullscreen bool `json:"isFullscreen"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.fullscreen = append(s.fullscreen, body.IsFullscreen)
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *examServer) reportedKinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]string, 0, len(s.reported))
	for _, r := range s.reported {
		if k, ok := r["violationType"].(string); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (s *examServer) setTerminate(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminate = v
}

// testEnv wires the full stack the way cmd/proctord does, with the kiosk
// shim replaced by direct writes into the spool and command directories.
type testEnv struct {
	t *testing.T

	ExamID     string
	SessionID  string
	SpoolDir   string
	CommandDir string
	ChainKey   []byte

	Backend    *examServer
	Store      *ledger.Store
	Ledger     *ledger.Ledger
	Engine     *escalation.Engine
	Enforcer   *fullscreen.Enforcer
	Controller *session.Controller

	cancel context.CancelFunc
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tempDir := t.TempDir()
	spoolDir := filepath.Join(tempDir, "spool")
	commandDir := filepath.Join(tempDir, "commands")
	for _, dir := range []string{spoolDir, commandDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	env := &testEnv{
		t:          t,
		ExamID:     "exam-" + uuid.NewString()[:8],
		SessionID:  uuid.NewString(),
		SpoolDir:   spoolDir,
		CommandDir: commandDir,
	}

	chainKey, err := ledger.DeriveChainKey(testCredential, env.SessionID)
	if err != nil {
		t.Fatalf("deriving chain key: %v", err)
	}
	env.ChainKey = chainKey

	env.Store, err = ledger.OpenStore(filepath.Join(tempDir, "audit.db"), chainKey)
	if err != nil {
		t.Fatalf("opening audit store: %v", err)
	}
	t.Cleanup(func() { env.Store.Close() })

	env.Ledger = ledger.New()
	env.Engine = escalation.New(opts.policy, env.Ledger, debounce.New(opts.debounceWindow), logger)

	monitor := capture.NewMonitor(capture.Config{}, []capture.Source{
		capture.NewSpoolSource(spoolDir, logger),
	}, logger)

	env.Enforcer = fullscreen.New(fullscreen.Config{
		MaxRetries:      3,
		RetryDelay:      opts.retryDelay,
		DeniedTolerance: 2,
	}, fullscreen.NewShimDriver(commandDir), env.Engine, logger)

	var recon session.Reconciler
	if opts.withServer {
		env.Backend = &examServer{seedViolations: opts.seedViolations}
		srv := httptest.NewServer(env.Backend.handler(env.ExamID))
		t.Cleanup(srv.Close)

		client, err := reconcile.New(reconcile.Config{
			BaseURL: srv.URL,
			Timeout: 2 * time.Second,
		}, env.ExamID, testCredential, logger)
		if err != nil {
			t.Fatalf("building reconcile client: %v", err)
		}
		recon = client
	}

	env.Controller = session.New(session.Config{
		ExamID:    env.ExamID,
		SessionID: env.SessionID,
		Duration:  opts.duration,
	}, monitor, env.Engine, env.Ledger, env.Enforcer, recon, env.Store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel
	t.Cleanup(cancel)

	if err := env.Controller.Start(ctx); err != nil {
		t.Fatalf("starting controller: %v", err)
	}
	return env
}

// writeSignal drops one spool record the way the kiosk shim does, with a
// temp-and-rename so the watcher never sees a partial file.
func (env *testEnv) writeSignal(sigType string, details map[string]string) {
	env.t.Helper()

	rec := map[string]any{
		"type":         sigType,
		"timestamp_ms": time.Now().UnixMilli(),
	}
	if details != nil {
		rec["details"] = details
	}
	switch sigType {
	case "blocked_shortcut", "contextmenu", "selectstart", "dragstart", "copy", "paste":
		rec["default_suppressed"] = true
	}

	data, err := json.Marshal(rec)
	if err != nil {
		env.t.Fatalf("marshal signal: %v", err)
	}
	name := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	tmp := filepath.Join(env.SpoolDir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		env.t.Fatalf("write signal: %v", err)
	}
	if err := os.Rename(tmp, filepath.Join(env.SpoolDir, name+".json")); err != nil {
		env.t.Fatalf("rename signal: %v", err)
	}
}

func (env *testEnv) awaitSummary(timeout time.Duration) session.Summary {
	env.t.Helper()
	select {
	case s := <-env.Controller.Done():
		return s
	case <-time.After(timeout):
		env.t.Fatalf("session did not finish within %s (status %s)",
			timeout, env.Controller.View().Status)
		return session.Summary{}
	}
}

func (env *testEnv) waitFor(what string, cond func() bool) {
	env.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.t.Fatalf("timed out waiting for %s", what)
}

func (env *testEnv) waitForCount(n int) {
	env.t.Helper()
	env.waitFor(fmt.Sprintf("violation count %d", n), func() bool {
		return env.Controller.View().ViolationCount >= n
	})
}

func countKind(violations []violation.Violation, kind violation.Kind) int {
	n := 0
	for _, v := range violations {
		if v.Kind == kind {
			n++
		}
	}
	return n
}

func commandFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading command dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	return names
}
