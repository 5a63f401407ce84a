package core

import (
	"fmt"
	"time"
)

// transitionGraph maps each interaction state to the states directly reachable
// from it. Locked is handled separately: it is reachable from every state
// unconditionally and exits only to idle.
var transitionGraph = map[InteractionState][]InteractionState{
	StateIdle:       {StateSelect, StateCellSelect, StateDraw, StateInspect},
	StateSelect:     {StateIdle, StateCellSelect, StateTag, StateInspect},
	StateCellSelect: {StateIdle, StateSelect, StateInspect},
	StateDraw:       {StateIdle, StateConfirm},
	StateTag:        {StateIdle, StateConfirm},
	StateConfirm:    {StateIdle},
	StateInspect:    {StateIdle, StateSelect},
	StateLocked:     {StateIdle},
}

// modePolicy maps each operating mode to the states permitted while it is
// active. Locked is permitted in every mode and omitted here.
var modePolicy = map[Mode]map[InteractionState]struct{}{
	ModeMonitoring: toStateSet(StateIdle, StateSelect, StateCellSelect, StateInspect),
	ModePlanning: toStateSet(
		StateIdle, StateSelect, StateCellSelect, StateDraw,
		StateTag, StateConfirm, StateInspect,
	),
	ModeForensic: toStateSet(StateIdle, StateSelect, StateCellSelect, StateInspect),
}

// mutatingStates is the only set of states in which mutations may be staged.
// Every mutation-producing code path consults CanMutate before proceeding.
var mutatingStates = toStateSet(StateDraw, StateTag, StateConfirm)

func toStateSet(states ...InteractionState) map[InteractionState]struct{} {
	set := make(map[InteractionState]struct{}, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// TransitionDeniedError reports a rejected interaction transition. The state
// machine is left unchanged and no event is emitted.
type TransitionDeniedError struct {
	From   InteractionState
	To     InteractionState
	Mode   Mode
	Reason string
}

func (e TransitionDeniedError) Error() string {
	return fmt.Sprintf("transition %s -> %s denied in mode %s: %s", e.From, e.To, e.Mode, e.Reason)
}

// InteractionController gates which UI-level actions are currently legal. A
// transition succeeds only when the target is reachable in the transition
// graph and permitted by the active mode's policy. One controller instance
// owns the state; callers serialize access.
type InteractionController struct {
	state     InteractionState
	mode      Mode
	listeners []interactionListener
	nextToken int
	errors    *ListenerErrorLog
	nowFn     func() time.Time
}

type interactionListener struct {
	token int
	fn    func(InteractionEvent)
}

// NewInteractionController constructs a controller in the idle state under
// the given mode. An unknown mode falls back to monitoring.
func NewInteractionController(mode Mode) *InteractionController {
	if _, ok := modePolicy[mode]; !ok {
		mode = ModeMonitoring
	}
	return &InteractionController{
		state:  StateIdle,
		mode:   mode,
		errors: NewListenerErrorLog(),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// State returns the current interaction state.
func (c *InteractionController) State() InteractionState { return c.state }

// Mode returns the active operating mode.
func (c *InteractionController) Mode() Mode { return c.mode }

// CanMutate reports whether the current state permits staging mutations.
func (c *InteractionController) CanMutate() bool {
	_, ok := mutatingStates[c.state]
	return ok
}

// Transition attempts to move to state to. On rejection the controller is
// unchanged and a TransitionDeniedError describes why.
func (c *InteractionController) Transition(to InteractionState, reason string) error {
	if to == c.state {
		return TransitionDeniedError{From: c.state, To: to, Mode: c.mode, Reason: "already in state"}
	}
	if to == StateLocked {
		// Locked is reachable from any state in any mode.
		c.commit(to, reason)
		return nil
	}
	if c.state == StateLocked {
		if to != StateIdle {
			return TransitionDeniedError{From: c.state, To: to, Mode: c.mode, Reason: "locked state only releases to idle"}
		}
		c.commit(to, reason)
		return nil
	}
	if !c.reachable(to) {
		return TransitionDeniedError{From: c.state, To: to, Mode: c.mode, Reason: "no edge in transition graph"}
	}
	if !c.permitted(to) {
		return TransitionDeniedError{From: c.state, To: to, Mode: c.mode, Reason: fmt.Sprintf("state not permitted in %s mode", c.mode)}
	}
	c.commit(to, reason)
	return nil
}

// SetMode switches the operating mode. If the current state is not permitted
// under the new mode, the controller is forced back to idle. Locked is
// mode-independent and survives mode changes.
func (c *InteractionController) SetMode(mode Mode) error {
	if _, ok := modePolicy[mode]; !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if mode == c.mode {
		return nil
	}
	c.mode = mode
	if c.state == StateLocked || c.state == StateIdle {
		return nil
	}
	if _, ok := modePolicy[mode][c.state]; !ok {
		c.commit(StateIdle, fmt.Sprintf("state reset by switch to %s mode", mode))
	}
	return nil
}

// Lock freezes interaction, e.g. during forensic playback. Idempotent.
func (c *InteractionController) Lock(reason string) {
	if c.state == StateLocked {
		return
	}
	c.commit(StateLocked, reason)
}

// Unlock releases a locked controller back to idle. No-op when not locked.
func (c *InteractionController) Unlock(reason string) {
	if c.state != StateLocked {
		return
	}
	c.commit(StateIdle, reason)
}

// Subscribe registers a listener for committed state changes and returns a
// deregistration token. Listeners run synchronously in registration order
// with per-listener failure isolation.
func (c *InteractionController) Subscribe(fn func(InteractionEvent)) int {
	c.nextToken++
	c.listeners = append(c.listeners, interactionListener{token: c.nextToken, fn: fn})
	return c.nextToken
}

// Unsubscribe removes the listener registered under token.
func (c *InteractionController) Unsubscribe(token int) bool {
	for i, l := range c.listeners {
		if l.token == token {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerErrors exposes failures recovered from subscriber callbacks.
func (c *InteractionController) ListenerErrors() []ListenerError {
	return c.errors.Errors()
}

func (c *InteractionController) reachable(to InteractionState) bool {
	for _, s := range transitionGraph[c.state] {
		if s == to {
			return true
		}
	}
	return false
}

func (c *InteractionController) permitted(to InteractionState) bool {
	_, ok := modePolicy[c.mode][to]
	return ok
}

func (c *InteractionController) commit(to InteractionState, reason string) {
	event := InteractionEvent{
		From:      c.state,
		To:        to,
		Timestamp: c.nowFn(),
		Reason:    reason,
	}
	c.state = to
	for _, l := range c.listeners {
		c.invoke(l, event)
	}
}

func (c *InteractionController) invoke(l interactionListener, event InteractionEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.errors.Record(fmt.Sprintf("interaction listener %d", l.token), fmt.Errorf("%v", r))
		}
	}()
	l.fn(event)
}
