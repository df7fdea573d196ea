// Package download glues the resilience stack together: it runs one task
// through the retry engine with a rotating working set, recovery callbacks
// and format fallback.
package download

import (
	"context"
	"log/slog"
	"time"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/extract"
	"github.com/trungvv/ripcord/internal/retry"
	"github.com/trungvv/ripcord/internal/rotation"
)

// Config holds runner settings.
type Config struct {
	// MaxAttempts bounds the retry loop per task.
	MaxAttempts int
	// FormatFallbacks are tried in order when the requested format is
	// reported unavailable.
	FormatFallbacks []string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.FormatFallbacks == nil {
		c.FormatFallbacks = []string{"bestvideo*+bestaudio/best", "best"}
	}
	return c
}

// Runner executes tasks for the orchestrator. Stateless across tasks; all
// per-task state lives in a session created by Run.
type Runner struct {
	cfg        Config
	engine     *retry.Engine
	pools      *rotation.Manager
	extractor  extract.Extractor
	solver     extract.Solver
	classifier *classify.Classifier
	log        *slog.Logger
}

// NewRunner creates a runner. solver may be nil when no challenge-solving
// collaborator is configured.
func NewRunner(cfg Config, engine *retry.Engine, pools *rotation.Manager, extractor extract.Extractor, solver extract.Solver, classifier *classify.Classifier, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg:        cfg.withDefaults(),
		engine:     engine,
		pools:      pools,
		extractor:  extractor,
		solver:     solver,
		classifier: classifier,
		log:        log,
	}
}

// session is the mutable per-task state threaded through the retry loop.
// The engine runs the operation and its callbacks on one goroutine, so no
// locking is needed.
type session struct {
	task    *domain.Task
	set     domain.WorkingSet
	format  string
	fbIdx   int
	attempt int
	notify  func(domain.Event)
}

// Run drives a single task to completion or terminal failure.
func (r *Runner) Run(ctx context.Context, task *domain.Task, notify func(domain.Event)) (*domain.DownloadResult, int, error) {
	s := &session{
		task:   task,
		set:    r.pools.WorkingSet(),
		format: task.Options.Format,
		notify: notify,
	}

	out, err := r.engine.Execute(ctx, task.URL, r.cfg.MaxAttempts, r.operation(s), retry.Callbacks{
		SwapResource:      func(ctx context.Context, cl classify.Classification) error { return r.swapResources(s, cl) },
		RefreshCredential: func(ctx context.Context, cl classify.Classification) error { return r.refreshSession(ctx, s) },
		SolveChallenge:    func(ctx context.Context, cl classify.Classification) error { return r.solveChallenge(ctx, s) },
	})
	if err != nil {
		return nil, s.attempt, err
	}
	return out.(*domain.DownloadResult), s.attempt, nil
}

func (r *Runner) operation(s *session) retry.Operation {
	return func(ctx context.Context, attempt int) (any, error) {
		s.attempt = attempt
		if attempt > 1 {
			s.notify(domain.Event{Type: domain.EventRetry, Attempt: attempt})
		}

		req := extract.Request{
			Target:  s.task.URL,
			Set:     s.set,
			Quality: s.task.Options.Quality,
			Format:  s.format,
			Progress: func(percent float64) {
				s.notify(domain.Event{Type: domain.EventProgress, Attempt: attempt, Progress: percent})
			},
		}

		result, err := r.extractor.Extract(ctx, req)
		if err != nil {
			// A cancelled attempt is not a verdict on the target or the
			// working set; it must not feed failure statistics.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			cl := r.classifier.ClassifyError(err)
			r.pools.ReportFailure(s.set, cl)
			r.maybeSwitchFormat(s, cl)
			// A solved challenge token is single-use.
			s.set.ChallengeToken = ""
			return nil, err
		}

		r.pools.ReportSuccess(s.set)
		return result, nil
	}
}

// swapResources replaces the implicated resources with fresh ones. An
// exhausted pool leaves the slot empty rather than aborting the task.
func (r *Runner) swapResources(s *session, cl classify.Classification) error {
	switch cl.Category {
	case classify.CategoryProxyError, classify.CategoryGeoBlocked:
		s.set.Proxy, _ = r.pools.Pool(domain.KindProxy).Next()
	case classify.CategoryRateLimit, classify.CategoryCaptchaRequired:
		s.set.Proxy, _ = r.pools.Pool(domain.KindProxy).Next()
		s.set.Identity, _ = r.pools.Pool(domain.KindIdentity).Next()
	default:
		s.set.Proxy, _ = r.pools.Pool(domain.KindProxy).Next()
	}
	r.log.Debug("working set rotated", "url", s.task.URL, "category", cl.Category)
	return nil
}

// refreshSession revalidates the current session and then takes whichever
// session the pool now prefers.
func (r *Runner) refreshSession(ctx context.Context, s *session) error {
	pool := r.pools.Pool(domain.KindSession)
	if s.set.Session != nil {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := pool.Revalidate(rctx, s.set.Session.ID)
		cancel()
		if err != nil {
			r.log.Warn("session refresh failed", "id", s.set.Session.ID, "error", err)
		}
	}
	s.set.Session, _ = pool.Next()
	return nil
}

func (r *Runner) solveChallenge(ctx context.Context, s *session) error {
	if r.solver == nil {
		r.log.Warn("challenge required but no solver configured", "url", s.task.URL)
		return nil
	}
	token, err := r.solver.Solve(ctx, extract.ChallengeParams{
		Type:    "captcha",
		PageURL: s.task.URL,
	})
	if err != nil {
		return err
	}
	s.set.ChallengeToken = token
	return nil
}

// maybeSwitchFormat advances the fallback list when the requested format is
// unavailable, so the next attempt asks for something the target can serve.
func (r *Runner) maybeSwitchFormat(s *session, cl classify.Classification) {
	if cl.Category != classify.CategoryFormatUnavailable {
		return
	}
	for s.fbIdx < len(r.cfg.FormatFallbacks) {
		next := r.cfg.FormatFallbacks[s.fbIdx]
		s.fbIdx++
		if next != s.format {
			r.log.Info("falling back to format", "url", s.task.URL, "format", next)
			s.format = next
			return
		}
	}
}
