// Package worker implements the convnode agent: it registers with a
// coordinator, heartbeats, and runs the transcoding pipeline for each
// pulled job (rsync in, convert, rsync out, push).
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/convpool/internal/conv"
)

// DefaultPingInterval keeps the heartbeat strictly inside the
// coordinator's 60 s staleness bound.
const DefaultPingInterval = 29 * time.Second

// ErrFailureReported is returned by Run after a failure report has been
// posted. The process must exit; the coordinator has already deregistered
// this worker and re-queued its job.
var ErrFailureReported = errors.New("worker: conversion failed, failure reported")

// Runner executes one external command and captures its outcome. The
// default runner shells out; tests substitute their own.
type Runner func(ctx context.Context, name string, args ...string) conv.ProcessOutput

// Agent is one worker node. It shares no memory with the coordinator;
// everything travels over the plain-text HTTP surface.
type Agent struct {
	baseURL  string
	host     string
	jobsDir  string
	interval time.Duration
	client   *http.Client
	logger   *log.Logger
	run      Runner

	// URN form exactly as /register returned it; sent back verbatim in
	// the uuid header.
	id string
}

// Option configures an Agent.
type Option func(*Agent)

// WithJobsDir overrides the local staging directory (default ./jobs).
func WithJobsDir(dir string) Option {
	return func(a *Agent) { a.jobsDir = dir }
}

// WithPingInterval overrides the heartbeat period. Must stay below the
// coordinator's staleness bound or the agent's jobs get reclaimed.
func WithPingInterval(d time.Duration) Option {
	return func(a *Agent) { a.interval = d }
}

// WithLogger overrides the agent's logger.
func WithLogger(logger *log.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

// WithRunner overrides the external command runner.
func WithRunner(run Runner) Option {
	return func(a *Agent) { a.run = run }
}

// New creates an agent for the coordinator at baseURL.
func New(baseURL string, opts ...Option) (*Agent, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("worker: parse coordinator url %q: %w", baseURL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("worker: coordinator url %q has no host", baseURL)
	}
	a := &Agent{
		baseURL:  strings.TrimRight(baseURL, "/"),
		host:     u.Hostname(),
		jobsDir:  "jobs",
		interval: DefaultPingInterval,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		run:      runCommand,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Run is the agent's main loop: register, heartbeat, then pull and
// process jobs until ctx is cancelled. A ping transport error is fatal —
// a worker the coordinator cannot see holds jobs it will never settle.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.jobsDir, 0755); err != nil {
		return fmt.Errorf("worker: create jobs dir %s: %w", a.jobsDir, err)
	}
	if err := a.register(ctx); err != nil {
		return err
	}
	a.logger.Printf("worker: registered as %s", a.id)

	pingErr := make(chan error, 1)
	go func() { pingErr <- a.heartbeat(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-pingErr:
			return err
		default:
		}

		job, err := a.pull(ctx)
		if err != nil {
			return err
		}
		if job == "" {
			select {
			case <-ctx.Done():
				return nil
			case err := <-pingErr:
				return err
			case <-time.After(a.interval):
			}
			continue
		}

		a.logger.Printf("worker: pulled job %s", job)
		if err := a.process(ctx, job); err != nil {
			return err
		}
	}
}

// register obtains a worker id from the coordinator. An empty body is a
// startup error.
func (a *Agent) register(ctx context.Context) error {
	body, err := a.get(ctx, "/register", "")
	if err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}
	if body == "" {
		return errors.New("worker: register returned an empty id")
	}
	a.id = body
	return nil
}

// heartbeat pings the coordinator every interval. Returns on ctx cancel
// (nil) or on the first transport error.
func (a *Agent) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.get(ctx, "/ping", a.id); err != nil {
				return fmt.Errorf("worker: ping: %w", err)
			}
		}
	}
}

// pull asks for the next job. An empty body means no work (or that the
// coordinator no longer knows this worker; the surface does not
// distinguish the two).
func (a *Agent) pull(ctx context.Context) (string, error) {
	body, err := a.get(ctx, "/pull", a.id)
	if err != nil {
		return "", fmt.Errorf("worker: pull: %w", err)
	}
	return body, nil
}

// process runs the pipeline for one job: fetch settings, rsync the input
// in, convert, rsync the output out, push. When the expected output file
// is missing after conversion it posts a failure report and returns
// ErrFailureReported.
func (a *Agent) process(ctx context.Context, job string) error {
	settings, err := a.fetchInfo(ctx)
	if err != nil {
		return err
	}

	input := filepath.Join(a.jobsDir, filepath.Base(job))
	output := filepath.Join(a.jobsDir, stem(job)+settings.FileExtension)

	from := a.run(ctx, "rsync", rsyncArgs(settings.RsyncUser+"@"+a.host+":"+job, a.jobsDir+"/")...)

	name, args, err := conv.BuildCommand(settings.FFmpegCommand, input, output)
	if err != nil {
		return err
	}
	converted := a.run(ctx, name, args...)

	to := a.run(ctx, "rsync", rsyncArgs(output, settings.RsyncUser+"@"+a.host+":"+settings.CompletedPath)...)

	if _, err := os.Stat(output); err != nil {
		a.logger.Printf("worker: no output at %s, reporting failure", output)
		report := conv.FailureReport{
			UUID:         a.id,
			TimestampUTC: time.Now().UTC(),
			Conversion:   converted,
			RsyncFrom:    from,
			RsyncTo:      to,
		}
		if err := a.postFailure(ctx, report); err != nil {
			return err
		}
		return ErrFailureReported
	}

	body, err := a.get(ctx, "/push", a.id)
	if err != nil {
		return fmt.Errorf("worker: push: %w", err)
	}
	a.logger.Printf("worker: pushed %s: %s", job, body)

	if err := os.Remove(output); err != nil {
		a.logger.Printf("worker: remove %s: %v", output, err)
	}
	if err := os.Remove(input); err != nil {
		a.logger.Printf("worker: remove %s: %v", input, err)
	}
	return nil
}

// fetchInfo retrieves the coordinator's conversion settings.
func (a *Agent) fetchInfo(ctx context.Context) (conv.Settings, error) {
	body, err := a.get(ctx, "/info", "")
	if err != nil {
		return conv.Settings{}, fmt.Errorf("worker: info: %w", err)
	}
	settings, err := conv.ParseInfo(body)
	if err != nil {
		return conv.Settings{}, err
	}
	return settings, nil
}

// postFailure sends the failure report. The coordinator deregisters this
// worker and re-queues the job.
func (a *Agent) postFailure(ctx context.Context, report conv.FailureReport) error {
	body, err := conv.EncodeFailure(report)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/failure", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: failure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker: post failure: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// get performs a GET against the coordinator, optionally with the uuid
// header, and returns the body.
func (a *Agent) get(ctx context.Context, route, id string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+route, nil)
	if err != nil {
		return "", err
	}
	if id != "" {
		req.Header.Set("uuid", id)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s: %s", route, resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// rsyncArgs builds the fixed transfer flags around a source and
// destination pair.
func rsyncArgs(src, dst string) []string {
	return []string{"-az", "-e", "ssh", "--protect-args", src, dst}
}

// stem is the job's file name without its extension. The local output
// name is this stem with FILE_EXTENSION appended verbatim, dot included
// or not as the operator wrote it.
func stem(jobPath string) string {
	base := filepath.Base(jobPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
