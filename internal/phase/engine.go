package phase

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrIllegalTransition is returned by Transition when the requested
// step is not legal from the branch's current position.
var ErrIllegalTransition = errors.New("illegal phase transition")

// Engine owns all mutation of branch phase state.
type Engine struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an engine over the given store.
func NewEngine(store *Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// GetState returns the persisted state for branch, or a fresh phase-0
// state if none exists. Never fails for an unseen branch.
func (e *Engine) GetState(branch string) *PhaseState {
	return e.store.Get(branch)
}

// CanTransition reports whether state may move to (toPhase, toSubphase).
//
// Without pass-through the target must be exactly one step ahead in the
// combined order. With pass-through any forward jump is legal and is
// recorded as such. Backward transitions are illegal in all cases.
// The reason string is empty iff the transition is legal.
func CanTransition(state *PhaseState, toPhase Phase, toSubphase Subphase, passThrough bool) (bool, string) {
	current, ok := Position(state.CurrentPhase, state.TDDSubphase)
	if !ok {
		return false, fmt.Sprintf("current state %s/%s is not on the lifecycle order", state.CurrentPhase, state.TDDSubphase)
	}

	toPhase, toSubphase = Normalize(toPhase, toSubphase)
	target, ok := Position(toPhase, toSubphase)
	if !ok {
		return false, fmt.Sprintf("target %s/%s is not on the lifecycle order", toPhase, toSubphase)
	}

	switch {
	case target <= current:
		return false, fmt.Sprintf("backward or repeated transition to %s is not permitted (currently at %s)",
			describe(toPhase, toSubphase), describe(state.CurrentPhase, state.TDDSubphase))
	case target == current+1:
		return true, ""
	case passThrough:
		return true, ""
	default:
		return false, fmt.Sprintf("cannot skip from %s to %s without pass-through",
			describe(state.CurrentPhase, state.TDDSubphase), describe(toPhase, toSubphase))
	}
}

// Transition validates and applies a transition on branch, appending to
// history and persisting atomically. On an illegal transition nothing
// is written and ErrIllegalTransition is returned with the reason.
func (e *Engine) Transition(branch string, toPhase Phase, toSubphase Subphase, passThrough bool) (*PhaseState, error) {
	state := e.store.Get(branch)

	ok, reason := CanTransition(state, toPhase, toSubphase, passThrough)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIllegalTransition, reason)
	}

	toPhase, toSubphase = Normalize(toPhase, toSubphase)
	now := e.now().UTC()
	state.History = append(state.History, PhaseTransition{
		FromPhase:    state.CurrentPhase,
		FromSubphase: state.TDDSubphase,
		ToPhase:      toPhase,
		ToSubphase:   toSubphase,
		PassThrough:  passThrough,
		Timestamp:    now,
	})
	state.CurrentPhase = toPhase
	state.TDDSubphase = toSubphase
	state.UpdatedAt = now

	if err := e.store.Put(state); err != nil {
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	e.logger.Info("phase transition",
		zap.String("branch", branch),
		zap.String("to", describe(toPhase, toSubphase)),
		zap.Bool("pass_through", passThrough))
	return state, nil
}

// LinkWorkItem associates a tracking work item with the branch.
func (e *Engine) LinkWorkItem(branch, workItemID string) (*PhaseState, error) {
	state := e.store.Get(branch)
	state.LinkedWorkItem = workItemID
	state.UpdatedAt = e.now().UTC()
	if err := e.store.Put(state); err != nil {
		return nil, fmt.Errorf("failed to persist work item link: %w", err)
	}
	return state, nil
}

// IncrementToolUsage records one invocation of a named tool on branch.
// The policy engine reads these counters as evidence that a required
// tool was actually used rather than bypassed.
func (e *Engine) IncrementToolUsage(branch, toolName string) (*PhaseState, error) {
	state := e.store.Get(branch)
	state.ToolUsage[toolName]++
	state.UpdatedAt = e.now().UTC()
	if err := e.store.Put(state); err != nil {
		return nil, fmt.Errorf("failed to persist tool usage: %w", err)
	}
	return state, nil
}

func describe(p Phase, s Subphase) string {
	if p == PhaseImplement && s != SubphaseNone {
		return fmt.Sprintf("%s/%s", p, s)
	}
	return p.String()
}
