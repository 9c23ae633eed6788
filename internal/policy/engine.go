// Package policy decides whether a reply is rendered into the sender's language.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the translation policy.
const (
	DecisionTranslate = "translate"
	DecisionSkip      = "skip"
)

// Input is the document the policy evaluates.
type Input struct {
	ResolvedLanguage string `json:"resolved_language"`
	DeclaredLanguage string `json:"declared_language"`
	Detected         bool   `json:"detected"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.translation_policy.decision"),
		rego.Module("translation_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or the default policy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate returns DecisionTranslate or DecisionSkip. A policy that yields no result, or
// a non-string result, is treated as skip.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionSkip, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok && s == DecisionTranslate {
		return DecisionTranslate, nil
	}
	return DecisionSkip, nil
}

// ShouldTranslate reports whether the reply must be rendered into input.ResolvedLanguage.
func (e *Engine) ShouldTranslate(ctx context.Context, input Input) (bool, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, err
	}
	return decision == DecisionTranslate, nil
}

// DefaultPolicy renders replies only when the language was detected and is not English.
const DefaultPolicy = `
package translation_policy

import rego.v1

default decision := "skip"

decision := "translate" if {
	input.detected
	input.resolved_language != "en"
}
`
