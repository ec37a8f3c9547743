package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/convpool/internal/conv"
)

// fakeCoordinator scripts the coordinator side of the wire protocol and
// records what the agent sent.
type fakeCoordinator struct {
	mu       sync.Mutex
	settings conv.Settings
	pulls    []string // body returned per /pull call, consumed in order
	pushBody string
	pushed   int
	failures []conv.FailureReport
}

func (f *fakeCoordinator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "urn:uuid:b5c8cd0a-1b4f-4b53-9bb2-0e02d57be2b4")
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ok")
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.settings.InfoBody())
	})
	mux.HandleFunc("/pull", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pulls) == 0 {
			return
		}
		body := f.pulls[0]
		f.pulls = f.pulls[1:]
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pushed++
		f.mu.Unlock()
		fmt.Fprint(w, f.pushBody)
	})
	mux.HandleFunc("/failure", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var report conv.FailureReport
		if err := json.Unmarshal(body, &report); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.failures = append(f.failures, report)
		f.mu.Unlock()
		fmt.Fprint(w, "Ok")
	})
	return mux
}

func newTestAgent(t *testing.T, coord *fakeCoordinator, run Runner) (*Agent, string) {
	t.Helper()
	srv := httptest.NewServer(coord.handler())
	t.Cleanup(srv.Close)

	jobs := t.TempDir()
	a, err := New(srv.URL, WithJobsDir(jobs), WithRunner(run))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, jobs
}

func TestRegisterKeepsURNVerbatim(t *testing.T) {
	coord := &fakeCoordinator{}
	a, _ := newTestAgent(t, coord, nil)

	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}
	want := "urn:uuid:b5c8cd0a-1b4f-4b53-9bb2-0e02d57be2b4"
	if a.id != want {
		t.Errorf("id = %q, want %q", a.id, want)
	}
}

func TestRegisterEmptyBodyIsStartupError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	a, err := New(srv.URL, WithJobsDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.register(context.Background()); err == nil {
		t.Error("expected error for empty register body")
	}
}

func TestProcessHappyPath(t *testing.T) {
	completed := t.TempDir()
	coord := &fakeCoordinator{
		settings: conv.Settings{
			FFmpegCommand: "convert -i [input] [output]",
			FileExtension: ".webm",
			CompletedPath: completed,
			RsyncUser:     "media",
		},
		pushBody: "Thanks!",
	}

	var mu sync.Mutex
	var calls [][]string
	run := func(ctx context.Context, name string, args ...string) conv.ProcessOutput {
		mu.Lock()
		calls = append(calls, append([]string{name}, args...))
		mu.Unlock()
		// The converter invocation produces the output file.
		if name == "convert" {
			if err := os.WriteFile(args[len(args)-1], []byte("webm"), 0644); err != nil {
				t.Errorf("write output: %v", err)
			}
		}
		return conv.ProcessOutput{}
	}

	a, jobs := newTestAgent(t, coord, run)
	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	// The agent never reads the remote input itself; stage what rsync
	// would have fetched.
	if err := os.WriteFile(filepath.Join(jobs, "a.mp4"), []byte("mp4"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := a.process(context.Background(), "/var/intake/a.mp4"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if coord.pushed != 1 {
		t.Errorf("pushed %d times, want 1", coord.pushed)
	}
	if len(coord.failures) != 0 {
		t.Errorf("unexpected failure reports: %d", len(coord.failures))
	}
	if len(calls) != 3 {
		t.Fatalf("got %d subprocess calls, want 3 (rsync, convert, rsync)", len(calls))
	}
	if calls[0][0] != "rsync" || calls[1][0] != "convert" || calls[2][0] != "rsync" {
		t.Errorf("call order = %v %v %v", calls[0][0], calls[1][0], calls[2][0])
	}

	// rsync in pulls from user@host:job into the jobs dir.
	from := calls[0]
	if from[len(from)-2] != "media@127.0.0.1:/var/intake/a.mp4" {
		t.Errorf("rsync source = %q", from[len(from)-2])
	}
	// rsync out delivers the local output to the completed dir.
	to := calls[2]
	wantOut := filepath.Join(jobs, "a.webm")
	if to[len(to)-2] != wantOut {
		t.Errorf("rsync out source = %q, want %q", to[len(to)-2], wantOut)
	}
	if to[len(to)-1] != "media@127.0.0.1:"+completed {
		t.Errorf("rsync out dest = %q", to[len(to)-1])
	}

	// The converter got the substituted paths.
	if calls[1][2] != filepath.Join(jobs, "a.mp4") || calls[1][3] != wantOut {
		t.Errorf("converter args = %v", calls[1][2:])
	}

	// Local staging files are cleaned up after push.
	if _, err := os.Stat(filepath.Join(jobs, "a.mp4")); !os.IsNotExist(err) {
		t.Error("local input not removed after push")
	}
	if _, err := os.Stat(wantOut); !os.IsNotExist(err) {
		t.Error("local output not removed after push")
	}
}

func TestProcessMissingOutputReportsFailure(t *testing.T) {
	coord := &fakeCoordinator{
		settings: conv.Settings{
			FFmpegCommand: "convert -i [input] [output]",
			FileExtension: ".webm",
			CompletedPath: "/srv/completed",
			RsyncUser:     "media",
		},
	}

	run := func(ctx context.Context, name string, args ...string) conv.ProcessOutput {
		if name == "convert" {
			return conv.ProcessOutput{ExitCode: 1, Stderr: "no such codec"}
		}
		return conv.ProcessOutput{}
	}

	a, _ := newTestAgent(t, coord, run)
	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := a.process(context.Background(), "/var/intake/a.mp4")
	if !errors.Is(err, ErrFailureReported) {
		t.Fatalf("process err = %v, want ErrFailureReported", err)
	}

	if coord.pushed != 0 {
		t.Error("push must not happen after a failed conversion")
	}
	if len(coord.failures) != 1 {
		t.Fatalf("got %d failure reports, want 1", len(coord.failures))
	}
	report := coord.failures[0]
	if report.UUID != a.id {
		t.Errorf("report uuid = %q, want %q", report.UUID, a.id)
	}
	if report.Conversion.ExitCode != 1 || report.Conversion.Stderr != "no such codec" {
		t.Errorf("conversion output = %+v", report.Conversion)
	}
	if report.TimestampUTC.IsZero() {
		t.Error("report timestamp is zero")
	}
}

func TestRunPullsUntilCancelled(t *testing.T) {
	completed := t.TempDir()
	coord := &fakeCoordinator{
		settings: conv.Settings{
			FFmpegCommand: "convert [input] [output]",
			FileExtension: ".webm",
			CompletedPath: completed,
			RsyncUser:     "media",
		},
		pushBody: "Thanks!",
		pulls:    []string{"/var/intake/a.mp4"},
	}

	run := func(ctx context.Context, name string, args ...string) conv.ProcessOutput {
		if name == "convert" {
			_ = os.WriteFile(args[len(args)-1], []byte("webm"), 0644)
		}
		return conv.ProcessOutput{}
	}

	srv := httptest.NewServer(coord.handler())
	defer srv.Close()

	a, err := New(srv.URL,
		WithJobsDir(filepath.Join(t.TempDir(), "jobs")),
		WithRunner(run),
		WithPingInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		coord.mu.Lock()
		pushed := coord.pushed
		coord.mu.Unlock()
		if pushed >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the job to be pushed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPingTransportErrorIsFatal(t *testing.T) {
	coord := &fakeCoordinator{}
	srv := httptest.NewServer(coord.handler())

	a, err := New(srv.URL,
		WithJobsDir(filepath.Join(t.TempDir(), "jobs")),
		WithPingInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the agent time to register, then take the coordinator away.
	time.Sleep(100 * time.Millisecond)
	srv.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Run returned nil after ping transport failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after ping transport failure")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("not a url"); err == nil {
		t.Error("expected error for unparseable url")
	}
}

func TestStem(t *testing.T) {
	cases := []struct {
		path, want string
	}{
		{"/var/intake/a.mp4", "a"},
		{"/var/intake/archive.tar.gz", "archive.tar"},
		{"/var/intake/noext", "noext"},
	}
	for _, tc := range cases {
		if got := stem(tc.path); got != tc.want {
			t.Errorf("stem(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestRsyncArgs(t *testing.T) {
	args := rsyncArgs("media@host:/src", "/dst")
	want := []string{"-az", "-e", "ssh", "--protect-args", "media@host:/src", "/dst"}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}
