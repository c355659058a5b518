package keygen

import "time"

// DefaultJSTimeout bounds a single key computation in the JS evaluator.
// Connectors generate keys while holding their write lock.
const DefaultJSTimeout = 250 * time.Millisecond

// JSEvaluatorOption configures the JS evaluator.
type JSEvaluatorOption func(*jsKeyConfig)

type jsKeyConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
	timeout  time.Duration
	strict   bool
}

// JSWithProgramCache shares compiled key scripts through cache.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(cfg *jsKeyConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry exposes registry functions to key scripts.
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(cfg *jsKeyConfig) {
		if registry != nil {
			cfg.registry = registry.Clone()
		}
	}
}

// JSWithTimeout interrupts a key script that runs longer than timeout.
// Non-positive values keep DefaultJSTimeout.
func JSWithTimeout(timeout time.Duration) JSEvaluatorOption {
	return func(cfg *jsKeyConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// JSWithStrictMode compiles key scripts in strict mode, so assignments to
// undeclared names fail instead of leaking into the runtime.
func JSWithStrictMode() JSEvaluatorOption {
	return func(cfg *jsKeyConfig) {
		cfg.strict = true
	}
}

func newJSKeyConfig(opts []JSEvaluatorOption) jsKeyConfig {
	cfg := jsKeyConfig{timeout: DefaultJSTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
