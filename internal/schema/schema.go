// Package schema validates JSON-carried values against embedded CUE definitions.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"taskflow/internal/domain"
)

//go:embed workflow.cue
var workflowSrc string

// Registry holds compiled definitions. A cue.Context is not safe for
// concurrent use, so calls are serialized.
type Registry struct {
	mu       sync.Mutex
	ctx      *cue.Context
	workflow cue.Value
}

func New() (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(workflowSrc, cue.Filename("workflow.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Workflow"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile workflow schema: #Workflow missing")
	}
	return &Registry{ctx: ctx, workflow: def}, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the process-wide registry.
func Default() (*Registry, error) {
	defaultOnce.Do(func() { defaultReg, defaultErr = New() })
	return defaultReg, defaultErr
}

// ValidateWorkflow checks a stored workflow document (JSON). Structural
// failures are reported as ErrStageConfigInvalid.
func (r *Registry) ValidateWorkflow(doc []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := r.ctx.CompileBytes(doc, cue.Filename("workflow.json"))
	if err := data.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStageConfigInvalid, err)
	}
	if err := r.workflow.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStageConfigInvalid, err)
	}
	return nil
}

// CheckStages applies the rules a CUE definition cannot express: unique ids
// and exactly one terminal stage.
func CheckStages(stages []domain.Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: at least one stage required", domain.ErrStageConfigInvalid)
	}
	seen := map[string]bool{}
	done := 0
	for _, s := range stages {
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate stage id %q", domain.ErrStageConfigInvalid, s.ID)
		}
		seen[s.ID] = true
		if s.IsDone {
			done++
		}
		if s.WIPLimit != nil && *s.WIPLimit < 0 {
			return fmt.Errorf("%w: stage %q has a negative wip limit", domain.ErrStageConfigInvalid, s.ID)
		}
		if !s.WIPMode.Valid() {
			return fmt.Errorf("%w: stage %q has unknown wip mode %q", domain.ErrStageConfigInvalid, s.ID, s.WIPMode)
		}
	}
	if done != 1 {
		return fmt.Errorf("%w: exactly one done stage required, got %d", domain.ErrStageConfigInvalid, done)
	}
	return nil
}
