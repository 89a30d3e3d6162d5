package media

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consult-platform/internal/billing"
	"consult-platform/internal/pricing"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

func newTestEngine(t *testing.T) (*billing.Engine, *wallet.Memory) {
	t.Helper()

	posts := wallet.NewMemory()
	if _, err := posts.EnsureWallet(context.Background(), "u1", wallet.OwnerTypeUser, "INR"); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	if _, _, err := posts.Credit(context.Background(), "u1", wallet.CreditRequest{
		AmountMinor:    60000,
		Currency:       "INR",
		IdempotencyKey: "seed-u1",
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	plans := &pricing.MemoryRepo{Plans: []pricing.RatePlan{{
		ID:                      "plan-1",
		AstrologerID:            "a1",
		CallType:                "voice",
		Currency:                "INR",
		BasePricePerMinuteMinor: 120,
		EffectiveFrom:           time.Now().Add(-time.Hour),
		Status:                  pricing.PlanStatusActive,
	}}}

	eng := billing.NewEngine(
		billing.NewMemoryStore(),
		wallet.NewCallLedger(posts, "INR"),
		pricing.NewRateSource(pricing.NewService(plans)),
		nil, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		billing.Config{TickInterval: 5 * time.Millisecond},
	)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng, posts
}

func postEvent(t *testing.T, h WebhookHandler, token string, ev RoomEvent) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/rtc", bytes.NewReader(body))
	if token != "" {
		c.Request.Header.Set("Authorization", "Bearer "+token)
	}
	h.HandleRoomEvent(c)
	return w
}

func createCall(t *testing.T, eng *billing.Engine, id string) {
	t.Helper()
	_, err := eng.CreateCall(context.Background(), billing.CreateCallRequest{
		CallID:       id,
		UserID:       "u1",
		AstrologerID: "a1",
		CallType:     billing.CallTypeVoice,
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
}

func TestParticipantFromIdentity(t *testing.T) {
	cases := []struct {
		identity string
		want     billing.ParticipantType
		ok       bool
	}{
		{"user-u1", billing.ParticipantUser, true},
		{"astrologer-a1", billing.ParticipantAstrologer, true},
		{"recorder-7", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParticipantFromIdentity(tc.identity)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("identity %q: got (%q, %v), want (%q, %v)", tc.identity, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHandleRoomEvent_RejectsBadToken(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := WebhookHandler{Engine: eng, Token: "secret"}

	w := postEvent(t, h, "wrong", RoomEvent{Event: EventParticipantJoined, RoomName: "c1", Identity: "user-u1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = postEvent(t, h, "", RoomEvent{Event: EventParticipantJoined, RoomName: "c1", Identity: "user-u1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", w.Code)
	}

	// The correct token without the Bearer scheme is still malformed.
	body, err := json.Marshal(RoomEvent{Event: EventParticipantJoined, RoomName: "c1", Identity: "user-u1"})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	w = httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/rtc", bytes.NewReader(body))
	c.Request.Header.Set("Authorization", "secret")
	h.HandleRoomEvent(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bare token without Bearer scheme, got %d", w.Code)
	}
}

func TestHandleRoomEvent_Lifecycle(t *testing.T) {
	eng, posts := newTestEngine(t)
	createCall(t, eng, "c1")
	h := WebhookHandler{Engine: eng, Token: "secret"}

	steps := []RoomEvent{
		{Event: EventParticipantJoined, RoomName: "c1", Identity: "user-u1"},
		{Event: EventParticipantJoined, RoomName: "c1", Identity: "astrologer-a1"},
		{Event: EventTrackPublished, RoomName: "c1", Identity: "astrologer-a1", TrackKind: "audio"},
	}
	for _, ev := range steps {
		if w := postEvent(t, h, "secret", ev); w.Code != http.StatusOK {
			t.Fatalf("event %s: expected 200, got %d body=%s", ev.Event, w.Code, w.Body.String())
		}
	}

	if eng.GetBillingState("c1") == nil {
		t.Fatalf("expected live ticker after audio published")
	}

	// Let a few seconds meter before the room finishes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		bal, err := posts.GetBalance(context.Background(), "u1")
		if err != nil {
			t.Fatalf("get balance: %v", err)
		}
		if bal.BalanceMinor < 60000 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no debit observed before room finish")
		}
		time.Sleep(time.Millisecond)
	}

	w := postEvent(t, h, "secret", RoomEvent{Event: EventRoomFinished, RoomName: "c1", EndedReason: "hangup"})
	if w.Code != http.StatusOK {
		t.Fatalf("room_finished: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var res billing.EventResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Finalized || res.Finalize == nil {
		t.Fatalf("expected finalized result, got %+v", res)
	}
	if res.Finalize.Status != billing.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Finalize.Status)
	}
	if eng.GetBillingState("c1") != nil {
		t.Fatalf("expected ticker gone after finalization")
	}
}

func TestHandleRoomEvent_IgnoresIrrelevant(t *testing.T) {
	eng, _ := newTestEngine(t)
	createCall(t, eng, "c1")
	h := WebhookHandler{Engine: eng}

	cases := []RoomEvent{
		{Event: EventParticipantJoined, RoomName: "c1", Identity: "recorder-7"},
		{Event: EventTrackPublished, RoomName: "c1", Identity: "user-u1", TrackKind: "video"},
		{Event: "room_started", RoomName: "c1"},
	}
	for _, ev := range cases {
		w := postEvent(t, h, "", ev)
		if w.Code != http.StatusOK {
			t.Fatalf("event %s identity %s: expected 200, got %d", ev.Event, ev.Identity, w.Code)
		}
	}

	rec, err := eng.GetCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if rec.BillingStarted {
		t.Fatalf("irrelevant events must not start billing")
	}
}

func TestHandleRoomEvent_UnknownCall(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := WebhookHandler{Engine: eng}

	w := postEvent(t, h, "", RoomEvent{Event: EventParticipantJoined, RoomName: "nope", Identity: "user-u1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleRoomEvent_CustomResolver(t *testing.T) {
	eng, _ := newTestEngine(t)
	createCall(t, eng, "c1")
	h := WebhookHandler{
		Engine: eng,
		CallIDResolver: func(_ *gin.Context, roomName string) (string, error) {
			return roomName[len("room-"):], nil
		},
	}

	w := postEvent(t, h, "", RoomEvent{Event: EventParticipantJoined, RoomName: "room-c1", Identity: "user-u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	rec, err := eng.GetCall(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if !rec.UserJoined {
		t.Fatalf("expected user join recorded via resolved call id")
	}
}

func TestHandleRoomEvent_BadPayload(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := WebhookHandler{Engine: eng}
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/rtc", bytes.NewReader([]byte("{")))
	h.HandleRoomEvent(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", w.Code)
	}

	w2 := postEvent(t, h, "", RoomEvent{Event: EventParticipantJoined, Identity: "user-u1"})
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing room, got %d", w2.Code)
	}
}
