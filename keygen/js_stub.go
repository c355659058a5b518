//go:build !js_eval

package keygen

// NewJSEvaluator returns nil unless built with the js_eval tag. Passing the
// nil evaluator to Expression fails with ErrNoEvaluator.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

// JSAvailable reports whether key scripts can run in this binary.
func JSAvailable() bool { return false }
