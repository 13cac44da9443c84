//go:build !js_eval

package fieldstore

import (
	"errors"
	"testing"
)

func TestJSEvaluatorNeedsBuildTag(t *testing.T) {
	if NewJSEvaluator() != nil {
		t.Fatalf("expected no js evaluator")
	}
	if _, err := NewEvaluatorByName("js", nil, nil); !errors.Is(err, ErrNoEvaluator) {
		t.Fatalf("expected ErrNoEvaluator, got %v", err)
	}
}
