package runner

import "go.uber.org/zap"

// Registry maps test_type to a Runner. Registration is static and
// performed once at startup (spec §4.4: "Registration is static and by
// test_type name"), never by reflection.
type Registry struct {
	runners map[string]Runner
	fallback Runner
	logger   *zap.Logger
}

// NewRegistry builds the default registry with Generic, BDD and Manual
// registered, and Generic as the unknown-type fallback.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	generic := NewGeneric()
	r := &Registry{
		runners:  make(map[string]Runner),
		fallback: generic,
		logger:   logger.Named("runner.registry"),
	}
	r.Register(generic)
	r.Register(NewBDD())
	r.Register(NewManual())
	return r
}

// Register adds (or replaces) a runner under its own Name().
func (r *Registry) Register(runner Runner) {
	r.runners[runner.Name()] = runner
}

// Resolve returns the runner registered for testType, or the fallback
// runner with a logged warning when testType is unknown.
func (r *Registry) Resolve(testType string) Runner {
	if testType == "" {
		return r.fallback
	}
	if runner, ok := r.runners[testType]; ok {
		return runner
	}
	r.logger.Warn("unknown test_type, falling back to generic runner", zap.String("test_type", testType))
	return r.fallback
}
