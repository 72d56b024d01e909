// Package saga orchestrates multi-step distributed workflows with
// compensation: each step pairs a forward action with an undo action, and a
// failure rolls the completed prefix back in reverse order.
package saga

import (
	"context"
	"time"
)

// Step is one unit of a saga. Execute moves the workflow forward;
// Compensate undoes it. A step with no Compensate is skipped during
// rollback.
type Step[T any] struct {
	Name       string
	Execute    func(ctx context.Context, data *T) error
	Compensate func(ctx context.Context, data *T) error
}

// Saga is an ordered list of steps sharing a data payload of type T.
type Saga[T any] struct {
	name  string
	steps []Step[T]
}

// New starts a saga definition.
func New[T any](name string) *Saga[T] {
	return &Saga[T]{name: name}
}

// Step appends a step with a compensation.
func (s *Saga[T]) Step(name string, execute, compensate func(ctx context.Context, data *T) error) *Saga[T] {
	s.steps = append(s.steps, Step[T]{Name: name, Execute: execute, Compensate: compensate})
	return s
}

// StepNoCompensate appends a step whose effects need no undo.
func (s *Saga[T]) StepNoCompensate(name string, execute func(ctx context.Context, data *T) error) *Saga[T] {
	s.steps = append(s.steps, Step[T]{Name: name, Execute: execute})
	return s
}

// Name returns the saga name.
func (s *Saga[T]) Name() string { return s.name }

// Steps returns the ordered step list.
func (s *Saga[T]) Steps() []Step[T] { return s.steps }

// Status is the lifecycle state of one saga run.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
)

// State is the persisted progress of one saga run.
type State[T any] struct {
	ID             string    `json:"id"`
	SagaName       string    `json:"sagaName"`
	Status         Status    `json:"status"`
	CurrentStep    string    `json:"currentStep,omitempty"`
	CompletedSteps []string  `json:"completedSteps,omitempty"`
	Data           T         `json:"data"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
