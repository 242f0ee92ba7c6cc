package obs

import "go.uber.org/zap"

// NewLogger builds the orchestrator's structured logger. Only the
// orchestration layer logs — the graph engine's hot path never calls
// into this (or anything else) so that search/insert stay
// non-suspending, per §5.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
