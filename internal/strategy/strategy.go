// Package strategy implements the deterministic fix chain. Strategies are a
// closed set registered in a fixed order; the registry returns the result of
// the first strategy whose predicate matches.
package strategy

import (
	"context"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/rs/zerolog/log"
)

// CodeFixer is the narrow slice of the reasoning backend available to the
// unknown catch-all strategy and to the driver's escalation of errors the
// deterministic strategies declined.
type CodeFixer interface {
	FixCode(ctx context.Context, buildError model.BuildError, fileContent string) (model.FixResult, error)
}

// Context carries per-session collaborators into strategy application.
type Context struct {
	ProjectRoot   string
	TargetVersion string
	Fixer         CodeFixer
}

// Strategy recognizes one error shape and proposes a textual patch. Apply
// must never write to disk; returned changes go through the patch applier
// under the driver's control.
type Strategy interface {
	Name() string
	Category() model.Category
	CanHandle(err model.BuildError) bool
	Apply(ctx context.Context, err model.BuildError, sctx Context) model.FixResult
}

// Registry holds strategies in registration order.
type Registry struct {
	strategies []Strategy
}

// NewRegistry returns the default chain. The unknown catch-all is always
// registered last.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(
		&compilationNoticeStrategy{},
		&dependencyStrategy{},
		&importStrategy{},
		&standaloneStrategy{},
		&nullabilityStrategy{},
		&unknownStrategy{},
	)
	return r
}

// Register appends strategies to the chain.
func (r *Registry) Register(strategies ...Strategy) {
	r.strategies = append(r.strategies, strategies...)
}

// ApplyFix routes the error to the first matching strategy. It does not try
// further strategies after the first match, regardless of the outcome.
func (r *Registry) ApplyFix(ctx context.Context, err model.BuildError, sctx Context) model.FixResult {
	for _, s := range r.strategies {
		if !s.CanHandle(err) {
			continue
		}
		log.Debug().
			Str("strategy", s.Name()).
			Str("category", string(err.Category)).
			Str("file", err.File).
			Msg("strategy selected")
		res := s.Apply(ctx, err, sctx)
		if res.FixedBy == "" {
			res.FixedBy = s.Name()
		}
		return res
	}
	return model.FixResult{
		Success:        false,
		RequiresManual: true,
		Suggestion:     "no fix strategy matched this error; resolve it manually",
	}
}
