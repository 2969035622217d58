package core

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

const (
	lifecycleEventDeliver = "deliver"
	lifecycleEventFail    = "fail"
	lifecycleEventExhaust = "exhaust"
)

type lifecycleContext struct {
	DispatchID string
}

// DispatchLifecycle validates status transitions of a DispatchRecord:
// queued and failed may move to sent, failed or dead; sent and dead are final.
type DispatchLifecycle struct {
	interpreters map[DispatchStatus]func() *statekit.Interpreter[lifecycleContext]
}

var (
	defaultLifecycleOnce sync.Once
	defaultLifecycle     *DispatchLifecycle
	defaultLifecycleErr  error
)

func DefaultDispatchLifecycle() (*DispatchLifecycle, error) {
	defaultLifecycleOnce.Do(func() {
		defaultLifecycle, defaultLifecycleErr = NewDispatchLifecycle()
	})
	return defaultLifecycle, defaultLifecycleErr
}

func NewDispatchLifecycle() (*DispatchLifecycle, error) {
	lifecycle := &DispatchLifecycle{
		interpreters: map[DispatchStatus]func() *statekit.Interpreter[lifecycleContext]{},
	}
	for _, initial := range []DispatchStatus{DispatchStatusQueued, DispatchStatusFailed} {
		factory, err := buildDispatchMachine(initial)
		if err != nil {
			return nil, err
		}
		lifecycle.interpreters[initial] = factory
	}
	return lifecycle, nil
}

func buildDispatchMachine(initial DispatchStatus) (func() *statekit.Interpreter[lifecycleContext], error) {
	builder := statekit.NewMachine[lifecycleContext]("dispatch-lifecycle").
		WithInitial(statekit.StateID(initial)).
		WithContext(lifecycleContext{})

	builder.State(stateID(DispatchStatusQueued)).
		On(lifecycleEventDeliver).Target(stateID(DispatchStatusSent)).
		On(lifecycleEventFail).Target(stateID(DispatchStatusFailed)).
		On(lifecycleEventExhaust).Target(stateID(DispatchStatusDead)).
		Done()

	builder.State(stateID(DispatchStatusFailed)).
		On(lifecycleEventDeliver).Target(stateID(DispatchStatusSent)).
		On(lifecycleEventFail).Target(stateID(DispatchStatusFailed)).
		On(lifecycleEventExhaust).Target(stateID(DispatchStatusDead)).
		Done()

	builder.State(stateID(DispatchStatusSent)).Done()
	builder.State(stateID(DispatchStatusDead)).Done()

	machine, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("core: build dispatch lifecycle: %w", err)
	}
	return func() *statekit.Interpreter[lifecycleContext] {
		return statekit.NewInterpreter(machine)
	}, nil
}

// Transition returns an error unless moving from -> to is allowed.
func (l *DispatchLifecycle) Transition(from DispatchStatus, to DispatchStatus) error {
	if l == nil {
		return fmt.Errorf("core: dispatch lifecycle is not configured")
	}
	if from.IsTerminal() {
		return transitionError(from, to, "status is terminal")
	}
	newInterpreter, ok := l.interpreters[from]
	if !ok {
		return transitionError(from, to, "unknown source status")
	}
	event, ok := lifecycleEventFor(to)
	if !ok {
		return transitionError(from, to, "unknown target status")
	}

	interpreter := newInterpreter()
	interpreter.Start()
	interpreter.Send(statekit.Event{Type: statekit.EventType(event)})
	if DispatchStatus(interpreter.State().Value) != to {
		return transitionError(from, to, "transition not allowed")
	}
	return nil
}

func stateID(status DispatchStatus) statekit.StateID {
	return statekit.StateID(status)
}

func lifecycleEventFor(to DispatchStatus) (string, bool) {
	switch to {
	case DispatchStatusSent:
		return lifecycleEventDeliver, true
	case DispatchStatusFailed:
		return lifecycleEventFail, true
	case DispatchStatusDead:
		return lifecycleEventExhaust, true
	default:
		return "", false
	}
}

func transitionError(from DispatchStatus, to DispatchStatus, reason string) error {
	return ValidationError("status", fmt.Sprintf("cannot move dispatch from %q to %q: %s", from, to, reason))
}
