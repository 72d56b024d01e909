package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/go-messaging/apperrors"
)

// Orchestrator runs one saga definition against a state store.
type Orchestrator[T any] struct {
	saga  *Saga[T]
	store StateStore[T]
	log   *logrus.Logger
}

// NewOrchestrator binds a saga to its state store.
func NewOrchestrator[T any](saga *Saga[T], store StateStore[T], log *logrus.Logger) *Orchestrator[T] {
	return &Orchestrator[T]{saga: saga, store: store, log: log}
}

// Execute runs the saga over data under a generated run id. On a step
// failure the completed prefix is compensated in reverse order and the run
// ends Compensated with a "Saga.Failed" error; compensation failures are
// logged and skipped so the remaining undo actions still run. The final
// state is returned in both outcomes.
func (o *Orchestrator[T]) Execute(ctx context.Context, data T) (*State[T], error) {
	return o.ExecuteWithID(ctx, uuid.NewString(), data)
}

// ExecuteWithID runs the saga under a caller-supplied run id, so the
// persisted state can be correlated with an external identifier such as an
// order or payment id.
func (o *Orchestrator[T]) ExecuteWithID(ctx context.Context, id string, data T) (*State[T], error) {
	now := time.Now().UTC()
	state := &State[T]{
		ID:        id,
		SagaName:  o.saga.name,
		Status:    StatusRunning,
		Data:      data,
		StartedAt: now,
		UpdatedAt: now,
	}

	log := o.log.WithFields(logrus.Fields{
		"saga":   o.saga.name,
		"sagaId": state.ID,
	})

	for _, step := range o.saga.steps {
		state.CurrentStep = step.Name
		if err := o.save(ctx, state); err != nil {
			return state, err
		}

		if err := step.Execute(ctx, &state.Data); err != nil {
			log.WithError(err).WithField("step", step.Name).Warn("saga step failed, compensating")
			state.Error = err.Error()
			o.compensate(ctx, state, log)
			return state, apperrors.Unexpected("Saga.Failed",
				fmt.Sprintf("saga %s failed at step %s: %v", o.saga.name, step.Name, err))
		}

		state.CompletedSteps = append(state.CompletedSteps, step.Name)
		if err := o.save(ctx, state); err != nil {
			return state, err
		}
		log.WithField("step", step.Name).Debug("saga step completed")
	}

	state.Status = StatusCompleted
	state.CurrentStep = ""
	if err := o.save(ctx, state); err != nil {
		return state, err
	}
	log.Info("saga completed")
	return state, nil
}

// compensate undoes the completed steps, newest first. Only steps that
// actually completed are compensated; the failing step cleans up after
// itself inside Execute.
func (o *Orchestrator[T]) compensate(ctx context.Context, state *State[T], log *logrus.Entry) {
	state.Status = StatusCompensating
	if err := o.save(ctx, state); err != nil {
		log.WithError(err).Error("cannot persist compensating state")
	}

	byName := make(map[string]Step[T], len(o.saga.steps))
	for _, step := range o.saga.steps {
		byName[step.Name] = step
	}

	for i := len(state.CompletedSteps) - 1; i >= 0; i-- {
		step := byName[state.CompletedSteps[i]]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, &state.Data); err != nil {
			// Keep unwinding: skipping a broken compensation loses less than
			// abandoning the ones below it.
			log.WithError(err).WithField("step", step.Name).Error("compensation failed, continuing")
		}
	}

	state.Status = StatusCompensated
	state.CurrentStep = ""
	if err := o.save(ctx, state); err != nil {
		log.WithError(err).Error("cannot persist compensated state")
	}
}

func (o *Orchestrator[T]) save(ctx context.Context, state *State[T]) error {
	state.UpdatedAt = time.Now().UTC()
	return o.store.Save(ctx, state)
}
