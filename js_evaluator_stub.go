//go:build !js_eval

package fieldstore

// NewJSEvaluator returns nil: goja is only linked with the js_eval build tag.
// NewEvaluatorByName reports ErrNoEvaluator for "js" in this build.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool { return false }
