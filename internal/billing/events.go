package billing

import (
	"context"
	"errors"
	"fmt"
)

// Event is a media-room occurrence relevant to call state. Each variant
// carries exactly the fields its transition needs; HandleEvent dispatches on
// the concrete type.
type Event interface {
	CallID() string
	Kind() string
}

type ParticipantJoined struct {
	Call        string
	Participant ParticipantType
}

func (e ParticipantJoined) CallID() string { return e.Call }
func (e ParticipantJoined) Kind() string   { return "participant_joined" }

type ParticipantLeft struct {
	Call        string
	Participant ParticipantType
}

func (e ParticipantLeft) CallID() string { return e.Call }
func (e ParticipantLeft) Kind() string   { return "participant_left" }

// TrackPublished reports a media track. Only audio affects billing; video
// tracks are recorded as no-ops.
type TrackPublished struct {
	Call        string
	Participant ParticipantType
	TrackKind   string
}

func (e TrackPublished) CallID() string { return e.Call }
func (e TrackPublished) Kind() string   { return "track_published" }

type TrackUnpublished struct {
	Call        string
	Participant ParticipantType
	TrackKind   string
}

func (e TrackUnpublished) CallID() string { return e.Call }
func (e TrackUnpublished) Kind() string   { return "track_unpublished" }

// CallEnded is an explicit room teardown (hangup, admin end).
type CallEnded struct {
	Call   string
	Reason string
}

func (e CallEnded) CallID() string { return e.Call }
func (e CallEnded) Kind() string   { return "call_ended" }

// EventResult summarizes what one event did to the call.
type EventResult struct {
	Event          string          `json:"event"`
	Status         CallStatus      `json:"status,omitempty"`
	BillingStarted bool            `json:"billing_started"`
	Finalized      bool            `json:"finalized"`
	Finalize       *FinalizeResult `json:"finalize,omitempty"`
}

// HandleEvent applies one media event and runs whatever billing action it
// unlocks. Events arrive in any order and may be duplicated; every path here
// is idempotent, so replays and races converge on the same state.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) (EventResult, error) {
	if ev == nil || ev.CallID() == "" {
		return EventResult{}, fmt.Errorf("%w: event with call id is required", ErrValidation)
	}
	out := EventResult{Event: ev.Kind()}

	switch ev := ev.(type) {
	case ParticipantJoined:
		res, err := e.MarkParticipantJoined(ctx, ev.Call, ev.Participant)
		if err != nil {
			return out, err
		}
		out.Status = res.Status
		if res.ShouldCheckBilling {
			started, err := e.tryStartBilling(ctx, ev.Call)
			if err != nil {
				return out, err
			}
			out.BillingStarted = started
		}
		return out, nil

	case ParticipantLeft:
		res, err := e.MarkParticipantLeft(ctx, ev.Call, ev.Participant)
		if err != nil {
			return out, err
		}
		out.Status = res.Status
		if res.ShouldFinalize {
			fin, err := e.FinalizeBilling(ctx, ev.Call, ReasonParticipantLeft)
			if err != nil {
				return out, err
			}
			out.Finalized = true
			out.Finalize = &fin
			out.Status = fin.Status
		}
		return out, nil

	case TrackPublished:
		if ev.TrackKind != "audio" {
			return out, nil
		}
		elig, err := e.MarkAudioTrackPublished(ctx, ev.Call)
		if err != nil {
			return out, err
		}
		out.Status = elig.Call.Status
		if elig.CanStart {
			started, err := e.tryStartBilling(ctx, ev.Call)
			if err != nil {
				return out, err
			}
			out.BillingStarted = started
		}
		return out, nil

	case TrackUnpublished:
		// Publication is monotonic: losing a track does not stop billing,
		// only a leave or explicit end does.
		return out, nil

	case CallEnded:
		reason := ev.Reason
		if reason == "" {
			reason = ReasonCallEnded
		}
		fin, err := e.FinalizeBilling(ctx, ev.Call, reason)
		if err != nil {
			return out, err
		}
		out.Finalized = true
		out.Finalize = &fin
		out.Status = fin.Status
		return out, nil

	default:
		return out, fmt.Errorf("%w: unknown event kind %q", ErrValidation, ev.Kind())
	}
}

// tryStartBilling attempts a start and swallows the benign outcomes: losing
// the race is success, and an uncovered predicate (the other precondition
// event has not landed yet) just means a later event will try again.
func (e *Engine) tryStartBilling(ctx context.Context, callID string) (bool, error) {
	res, err := e.StartBilling(ctx, callID)
	switch {
	case err == nil:
		return !res.AlreadyStarted, nil
	case errors.Is(err, ErrConflict):
		return false, nil
	default:
		return false, err
	}
}
