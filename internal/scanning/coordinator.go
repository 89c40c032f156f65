package scanning

import (
	"context"
	"fmt"
	"log/slog"
)

// ProgressFunc receives coarse progress (0-100) while strategies run
type ProgressFunc func(percent int, message string)

// Coordinator runs strategies in order until one produces usable items
type Coordinator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator over an ordered strategy list
func NewCoordinator(logger *slog.Logger, strategies ...Strategy) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{strategies: strategies, logger: logger}
}

// Strategies returns the strategy names in the order they are tried
func (c *Coordinator) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Extract returns the first usable result. Raw text from a strategy that
// fell short is passed on so later strategies can parse it instead of
// reading the image again. When nothing is usable the last result is
// returned.
func (c *Coordinator) Extract(ctx context.Context, doc Document, progress ProgressFunc) Result {
	if progress == nil {
		progress = func(int, string) {}
	}
	if len(c.strategies) == 0 {
		return Result{Outcome: Failed, Reason: "no extraction strategies configured"}
	}

	step := 80 / len(c.strategies)
	last := Result{Outcome: Failed}
	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: Failed, Reason: err.Error(), Strategy: s.Name()}
		}

		progress(10+i*step, fmt.Sprintf("Running %s extraction", s.Name()))
		res := s.Run(ctx, doc)
		res.Strategy = s.Name()

		c.logger.Info("extraction strategy finished",
			"fingerprint", doc.Fingerprint,
			"strategy", s.Name(),
			"outcome", res.Outcome,
			"items", len(res.Items),
			"reason", res.Reason,
		)

		if res.Usable() {
			progress(90, "Extraction complete")
			return res
		}
		if doc.RawText == "" && res.RawText != "" {
			doc.RawText = res.RawText
		}
		last = res
	}
	return last
}
