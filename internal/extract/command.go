package extract

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/trungvv/ripcord/internal/core/domain"
)

// CommandConfig holds the external tool settings.
type CommandConfig struct {
	// Binary is the extraction tool, yt-dlp compatible.
	Binary    string
	OutputDir string
	ExtraArgs []string

	// StallTimeout abandons a run producing no output for this long; the
	// resulting failure classifies as a timeout.
	StallTimeout time.Duration

	// KillGrace is how long the tool gets to exit after SIGINT before it
	// is killed.
	KillGrace time.Duration
}

func (c CommandConfig) withDefaults() CommandConfig {
	if c.Binary == "" {
		c.Binary = "yt-dlp"
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = 2 * time.Minute
	}
	if c.KillGrace == 0 {
		c.KillGrace = 10 * time.Second
	}
	return c
}

// CommandExtractor shells out to the extraction tool, feeding it the working
// set and watching for stalls.
type CommandExtractor struct {
	cfg CommandConfig
	log *slog.Logger
}

// NewCommandExtractor creates an extractor.
func NewCommandExtractor(cfg CommandConfig, log *slog.Logger) *CommandExtractor {
	if log == nil {
		log = slog.Default()
	}
	return &CommandExtractor{cfg: cfg.withDefaults(), log: log}
}

// buildArgs translates a request and working set into tool arguments.
// Nil slots mean the run proceeds without that resource kind.
func (e *CommandExtractor) buildArgs(req Request) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"-o", filepath.Join(e.cfg.OutputDir, "%(title)s.%(ext)s"),
	}

	selector := formatSelector(req.Quality, req.Format)
	if selector != "" {
		args = append(args, "-f", selector)
	}
	if req.Set.Proxy != nil {
		args = append(args, "--proxy", req.Set.Proxy.Value)
	}
	if req.Set.Session != nil {
		args = append(args, "--cookies", req.Set.Session.Value)
	}
	if req.Set.Identity != nil {
		args = append(args, "--user-agent", req.Set.Identity.Value)
	}
	if req.Set.ChallengeToken != "" {
		args = append(args, "--extractor-args", "challenge_token="+req.Set.ChallengeToken)
	}

	args = append(args, e.cfg.ExtraArgs...)
	return append(args, req.Target)
}

// formatSelector maps quality/format options onto a tool selector string.
func formatSelector(quality, format string) string {
	var parts []string
	switch quality {
	case "", "best":
		parts = append(parts, "bestvideo+bestaudio/best")
	case "audio":
		parts = append(parts, "bestaudio")
	default:
		parts = append(parts, fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", quality, quality))
	}
	selector := strings.Join(parts, "/")
	if format != "" {
		selector += fmt.Sprintf("[ext=%s]/%s", format, selector)
	}
	return selector
}

// Extract runs the tool once. Cancellation sends SIGINT and escalates to a
// kill after the grace period; a stall is surfaced as a timeout failure.
func (e *CommandExtractor) Extract(ctx context.Context, req Request) (*domain.DownloadResult, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	args := e.buildArgs(req)
	cmd := exec.CommandContext(runCtx, e.cfg.Binary, args...)
	cmd.Cancel = func() error {
		// Give the tool a chance to clean up partial files.
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = e.cfg.KillGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}
	e.log.Debug("extractor started", "target", req.Target, "pid", cmd.Process.Pid)

	// Stall watchdog: reset on every output line on either stream.
	stalled := false
	var stallMu sync.Mutex
	watchdog := time.AfterFunc(e.cfg.StallTimeout, func() {
		stallMu.Lock()
		stalled = true
		stallMu.Unlock()
		cancelRun()
	})
	kick := func() { watchdog.Reset(e.cfg.StallTimeout) }

	var wg sync.WaitGroup
	var destination string
	var tail outputTail

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			kick()
			if pct, ok := ParseProgress(line); ok && req.Progress != nil {
				req.Progress(pct)
			}
			if dest, ok := ParseDestination(line); ok {
				destination = dest
			}
			tail.add(line)
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			kick()
			tail.add(scanner.Text())
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	watchdog.Stop()
	stallMu.Lock()
	wasStalled := stalled && ctx.Err() == nil
	stallMu.Unlock()

	if wasStalled {
		return nil, &ExitError{
			ExitCode: exitCode(waitErr),
			Output:   fmt.Sprintf("extraction stalled: no output for %s", e.cfg.StallTimeout),
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, &ExitError{ExitCode: exitCode(waitErr), Output: tail.errorLine()}
	}

	result := &domain.DownloadResult{
		FilePath: destination,
		Duration: time.Since(start),
	}
	if destination != "" {
		if info, err := os.Stat(destination); err == nil {
			result.SizeBytes = info.Size()
		}
	}
	return result, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// outputTail keeps the last few lines of tool output, preferring explicit
// ERROR lines, so the classifier sees the most useful diagnostic text.
type outputTail struct {
	mu      sync.Mutex
	lines   []string
	errLine string
}

const tailSize = 10

func (t *outputTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > tailSize {
		t.lines = t.lines[1:]
	}
	if strings.HasPrefix(strings.TrimSpace(line), "ERROR") {
		t.errLine = line
	}
}

func (t *outputTail) errorLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errLine != "" {
		return t.errLine
	}
	return strings.Join(t.lines, "\n")
}
