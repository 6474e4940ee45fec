package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Step is one unit of work with an optional undo.
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// StepError reports which step failed and whether undoing the earlier steps worked.
// It unwraps to the step's own error.
type StepError struct {
	Saga            string
	Step            string
	Index           int
	Err             error
	CompensationErr error
}

func (e *StepError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("%s: step %q failed (%v), compensation also failed: %v", e.Saga, e.Step, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("%s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Saga runs steps in order and undoes completed ones when a later step fails.
type Saga struct {
	name   string
	steps  []Step
	logger zerolog.Logger
}

func New(name string) *Saga {
	return &Saga{name: name, logger: zerolog.Nop()}
}

func (s *Saga) WithLogger(logger zerolog.Logger) *Saga {
	s.logger = logger.With().Str("saga", s.name).Logger()
	return s
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute returns nil when every step succeeded, or a *StepError.
// Compensation runs even if ctx was cancelled.
func (s *Saga) Execute(ctx context.Context) error {
	completed := make([]int, 0, len(s.steps))

	for i, step := range s.steps {
		if err := step.Execute(ctx); err != nil {
			s.logger.Warn().Err(err).Str("step", step.Name).Msg("Saga step failed, compensating")
			return &StepError{
				Saga:            s.name,
				Step:            step.Name,
				Index:           i,
				Err:             err,
				CompensationErr: s.compensate(context.WithoutCancel(ctx), completed),
			}
		}
		completed = append(completed, i)
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, completed []int) error {
	var errs []error
	for i := len(completed) - 1; i >= 0; i-- {
		step := s.steps[completed[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error().Err(err).Str("step", step.Name).Msg("Saga compensation failed")
			errs = append(errs, fmt.Errorf("compensate %q: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
