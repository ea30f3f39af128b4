package session

import "github.com/amoylab/botgate/internal/provider"

// State is the authentication status of a session
type State string

const (
	StateUninitialized State = "uninitialized"
	StateAwaitingScan  State = "awaiting_scan"
	StateAuthenticated State = "authenticated"
	StateDisconnected  State = "disconnected"
	StateFailed        State = "failed"
)

// Terminal reports whether no further event can move the session
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// Effect is the side effect the manager performs after a transition
type Effect int

const (
	EffectNone Effect = iota
	// EffectRenderChallenge persists the challenge carried by the event
	EffectRenderChallenge
	// EffectAnnounceReady marks the session usable for sends
	EffectAnnounceReady
	// EffectTeardown disposes the handle and removes the record
	EffectTeardown
	// EffectRelease disposes the handle and keeps the record as a tombstone
	EffectRelease
	// EffectScheduleRetry is EffectRelease plus one delayed re-creation
	EffectScheduleRetry
)

func (e Effect) String() string {
	switch e {
	case EffectRenderChallenge:
		return "render_challenge"
	case EffectAnnounceReady:
		return "announce_ready"
	case EffectTeardown:
		return "teardown"
	case EffectRelease:
		return "release"
	case EffectScheduleRetry:
		return "schedule_retry"
	default:
		return "none"
	}
}

// Apply returns the state reached from s on evt and the effect to perform.
// Events that do not apply leave s unchanged with EffectNone.
func Apply(s State, evt provider.EventType) (State, Effect) {
	if s.Terminal() {
		return s, EffectNone
	}
	switch evt {
	case provider.EventQR:
		if s == StateAuthenticated {
			return s, EffectNone
		}
		return StateAwaitingScan, EffectRenderChallenge
	case provider.EventReady:
		if s == StateAuthenticated {
			return s, EffectNone
		}
		return StateAuthenticated, EffectAnnounceReady
	case provider.EventDisconnected:
		return StateDisconnected, EffectTeardown
	case provider.EventAuthFailure:
		return StateFailed, EffectRelease
	case provider.EventTimeout:
		return StateFailed, EffectScheduleRetry
	}
	return s, EffectNone
}
