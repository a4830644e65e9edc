package worker

import (
	"context"
	"errors"
	"fmt"

	"slide_analyzer/internal/compute"
	"slide_analyzer/internal/resolver"
)

const NoteInterrupted = "interrupted by shutdown"

// describeFailure maps a pipeline error to a metrics reason and the
// errorDetail shown to polling clients.
func describeFailure(ctx context.Context, err error) (reason, detail string) {
	switch {
	case ctx.Err() != nil:
		return "interrupted", NoteInterrupted
	case errors.Is(err, resolver.ErrFileNotFound):
		return "file_not_found", fmt.Sprintf("input file not found, tried common image extensions: %v", err)
	case errors.Is(err, compute.ErrTimeout):
		return "compute_timeout", "compute service timed out, the image may be large or complex; check the result again later"
	case errors.Is(err, compute.ErrUnavailable):
		return "compute_unavailable", fmt.Sprintf("compute service unavailable: %v", err)
	case errors.Is(err, compute.ErrRejected):
		return "compute_rejected", fmt.Sprintf("compute service analysis failed: %v", err)
	default:
		return "compute_error", fmt.Sprintf("compute service call failed: %v", err)
	}
}

func describePersistence(op string, err error) string {
	return fmt.Sprintf("failed to %s: %v", op, err)
}
