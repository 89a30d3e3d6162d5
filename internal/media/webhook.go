// Package media adapts RTC room webhooks into billing events.
//
// The media provider (LiveKit-style room server) posts a JSON event per room
// occurrence. This package is a thin provider adapter: it authenticates the
// webhook, translates the payload into internal event types, and delegates to
// the billing engine. No business logic here.
package media

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"consult-platform/internal/billing"
	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Room event types posted by the provider.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTrackPublished    = "track_published"
	EventTrackUnpublished  = "track_unpublished"
	EventRoomFinished      = "room_finished"
)

// Participant identities are prefixed by the token issuer so the webhook can
// tell the two sides apart without a DB lookup.
const (
	identityUserPrefix       = "user-"
	identityAstrologerPrefix = "astrologer-"
)

// RoomEvent is the subset of the provider webhook payload we care about.
type RoomEvent struct {
	Event       string `json:"event"`
	RoomName    string `json:"room_name"`
	Identity    string `json:"participant_identity"`
	TrackKind   string `json:"track_kind,omitempty"`
	EndedReason string `json:"ended_reason,omitempty"`
}

func ParseRoomEvent(r *http.Request) (RoomEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return RoomEvent{}, err
	}
	var ev RoomEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return RoomEvent{}, err
	}
	ev.Event = strings.TrimSpace(ev.Event)
	ev.RoomName = strings.TrimSpace(ev.RoomName)
	return ev, nil
}

// ParticipantFromIdentity maps a room identity to the billing participant
// type. Identities without a known prefix (recorders, monitors) return false.
func ParticipantFromIdentity(identity string) (billing.ParticipantType, bool) {
	switch {
	case strings.HasPrefix(identity, identityUserPrefix):
		return billing.ParticipantUser, true
	case strings.HasPrefix(identity, identityAstrologerPrefix):
		return billing.ParticipantAstrologer, true
	default:
		return "", false
	}
}

// EventFor converts a provider payload into the billing event it implies.
// Returns nil when the payload is well-formed but billing-irrelevant
// (unknown identity prefix, unknown event type).
func EventFor(ev RoomEvent, callID string) billing.Event {
	switch ev.Event {
	case EventParticipantJoined:
		p, ok := ParticipantFromIdentity(ev.Identity)
		if !ok {
			return nil
		}
		return billing.ParticipantJoined{Call: callID, Participant: p}
	case EventParticipantLeft:
		p, ok := ParticipantFromIdentity(ev.Identity)
		if !ok {
			return nil
		}
		return billing.ParticipantLeft{Call: callID, Participant: p}
	case EventTrackPublished:
		p, ok := ParticipantFromIdentity(ev.Identity)
		if !ok {
			return nil
		}
		return billing.TrackPublished{Call: callID, Participant: p, TrackKind: ev.TrackKind}
	case EventTrackUnpublished:
		p, ok := ParticipantFromIdentity(ev.Identity)
		if !ok {
			return nil
		}
		return billing.TrackUnpublished{Call: callID, Participant: p, TrackKind: ev.TrackKind}
	case EventRoomFinished:
		return billing.CallEnded{Call: callID, Reason: ev.EndedReason}
	default:
		return nil
	}
}

// WebhookHandler converts provider room webhooks to billing events and
// applies them through the engine.
//
// Auth: the provider is configured with a static bearer token
// (RTC_WEBHOOK_TOKEN); requests without it are rejected before parsing.
type WebhookHandler struct {
	Engine *billing.Engine

	// Token is the shared secret the provider sends as a bearer token.
	// Empty disables the check (local dev only).
	Token string

	// CallIDResolver maps a room name to a call id. Rooms are created with
	// the call id as their name, so the default is the identity map; it's
	// injected so deployments with prefixed room names can override it.
	CallIDResolver func(c *gin.Context, roomName string) (string, error)
}

func (h WebhookHandler) resolveCallID(c *gin.Context, roomName string) (string, error) {
	if h.CallIDResolver != nil {
		return h.CallIDResolver(c, roomName)
	}
	return roomName, nil
}

func (h WebhookHandler) authorized(c *gin.Context) bool {
	if h.Token == "" {
		return true
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.Token)) == 1
}

func (h WebhookHandler) HandleRoomEvent(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "billing engine not configured"})
		return
	}
	if !h.authorized(c) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	ev, err := ParseRoomEvent(c.Request)
	if err != nil {
		log.Warn("room webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if ev.RoomName == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_name required"})
		return
	}

	callID, err := h.resolveCallID(c, ev.RoomName)
	if err != nil {
		log.Warn("call resolution failed", "room", ev.RoomName, "err", err)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}

	billingEvent := EventFor(ev, callID)
	if billingEvent == nil {
		// Irrelevant event or participant; ack so the provider stops retrying.
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	res, err := h.Engine.HandleEvent(c.Request.Context(), billingEvent)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotFound):
			log.Warn("room event for unknown call", "call_id", callID, "event", ev.Event)
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown call"})
		case errors.Is(err, billing.ErrValidation):
			log.Warn("room event rejected", "call_id", callID, "event", ev.Event, "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		default:
			log.Error("room event apply failed", "call_id", callID, "event", ev.Event, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event apply failed"})
		}
		return
	}

	log.Info("room event applied",
		"call_id", callID,
		"event", ev.Event,
		"status", res.Status,
		"billing_started", res.BillingStarted,
		"finalized", res.Finalized,
	)
	c.JSON(http.StatusOK, res)
}
