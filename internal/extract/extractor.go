// Package extract wraps the external extraction tool and the
// challenge-solving collaborator. The core only depends on exit status and
// raw diagnostic text; everything else about the tool is opaque.
package extract

import (
	"context"
	"fmt"

	"github.com/trungvv/ripcord/internal/core/domain"
)

// Request describes one extraction attempt.
type Request struct {
	Target  string
	Set     domain.WorkingSet
	Quality string
	Format  string

	// Progress receives percentages (0..100) parsed from tool output.
	Progress func(percent float64)
}

// Extractor invokes the external extraction collaborator.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*domain.DownloadResult, error)
}

// ExitError is a failed tool invocation: exit code plus the diagnostic tail,
// which the classifier consumes verbatim.
type ExitError struct {
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("extractor exited with code %d: %s", e.ExitCode, e.Output)
}
