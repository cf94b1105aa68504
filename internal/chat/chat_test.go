package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/globalchat/backend/internal/auth"
	"github.com/globalchat/backend/internal/cache"
	"github.com/globalchat/backend/internal/db"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/metrics"
)

type fakeMessages struct {
	mu        sync.Mutex
	saved     []db.Message
	users     map[uuid.UUID]*db.User
	createErr error
	listErr   error
}

func (f *fakeMessages) Create(_ context.Context, msg *db.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.saved = append(f.saved, *msg)
	return nil
}

func (f *fakeMessages) ListWithSenders(context.Context) ([]db.MessageWithSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []db.MessageWithSender{}
	for _, m := range f.saved {
		u := f.users[m.SenderID]
		out = append(out, db.MessageWithSender{Message: m, SenderName: u.Name, SenderProfilePicture: u.ProfilePicture})
	}
	return out, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*db.User
	calls int
	err   error
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	return u, nil
}

type fakeSenderCache struct {
	profiles map[uuid.UUID]*cache.SenderProfile
}

func (c *fakeSenderCache) GetSenderProfile(_ context.Context, id uuid.UUID) (*cache.SenderProfile, bool) {
	p, ok := c.profiles[id]
	return p, ok
}

func (c *fakeSenderCache) SetSenderProfile(_ context.Context, p *cache.SenderProfile) error {
	c.profiles[p.ID] = p
	return nil
}

type publishedEvent struct {
	name string
	data any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: event, data: data})
	return p.err
}

type chatFixture struct {
	svc       *Service
	messages  *fakeMessages
	users     *fakeUsers
	cache     *fakeSenderCache
	publisher *fakePublisher
	alice     *db.User
	clock     time.Time
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	pic := "https://cdn.example.com/profilePictures/a.png"
	alice := &db.User{ID: uuid.New(), Name: "Alice", Email: "a@x.com", ProfilePicture: &pic}
	users := map[uuid.UUID]*db.User{alice.ID: alice}

	f := &chatFixture{
		messages:  &fakeMessages{users: users},
		users:     &fakeUsers{users: users},
		cache:     &fakeSenderCache{profiles: map[uuid.UUID]*cache.SenderProfile{}},
		publisher: &fakePublisher{},
		alice:     alice,
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.messages, f.users, f.cache, f.publisher)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestSend_PersistsResolvesAndBroadcasts(t *testing.T) {
	f := newChatFixture(t)

	msg, err := f.svc.Send(context.Background(), f.alice.ID, "hello")
	require.NoError(t, err)

	require.Len(t, f.messages.saved, 1)
	saved := f.messages.saved[0]
	assert.False(t, saved.ReceiverID.Valid)
	assert.Equal(t, "hello", saved.Body)

	want := &ResolvedMessage{
		ID:        saved.ID.String(),
		Sender:    Sender{ID: f.alice.ID.String(), Name: "Alice", ProfilePicture: f.alice.ProfilePicture},
		Message:   "hello",
		CreatedAt: f.clock,
		UpdatedAt: f.clock,
	}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("resolved message mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "updateMessages", f.publisher.events[0].name)
	assert.Equal(t, UpdateMessagesPayload{
		Content:              "hello",
		SenderName:           "Alice",
		SenderProfilePicture: f.alice.ProfilePicture,
		Timestamp:            f.clock,
	}, f.publisher.events[0].data)
}

func TestSend_UsesCachedSender(t *testing.T) {
	f := newChatFixture(t)

	_, err := f.svc.Send(context.Background(), f.alice.ID, "one")
	require.NoError(t, err)
	_, err = f.svc.Send(context.Background(), f.alice.ID, "two")
	require.NoError(t, err)

	assert.Equal(t, 1, f.users.calls)
	assert.Contains(t, f.cache.profiles, f.alice.ID)
}

func TestSend_WithoutCache(t *testing.T) {
	f := newChatFixture(t)
	svc := NewService(f.messages, f.users, nil, f.publisher)

	msg, err := svc.Send(context.Background(), f.alice.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Alice", msg.Sender.Name)
}

func TestSend_BroadcastFailureDoesNotFail(t *testing.T) {
	f := newChatFixture(t)
	f.publisher.err = errors.New("redis down")

	_, err := f.svc.Send(context.Background(), f.alice.ID, "hello")
	assert.NoError(t, err)
	assert.Len(t, f.messages.saved, 1)
}

func TestSend_UnresolvableSenderSkipsBroadcast(t *testing.T) {
	f := newChatFixture(t)
	f.users.err = errors.New("db timeout")

	msg, err := f.svc.Send(context.Background(), f.alice.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID.String(), msg.Sender.ID)
	assert.Empty(t, f.publisher.events)
}

func TestSend_StoreFailure(t *testing.T) {
	f := newChatFixture(t)
	f.messages.createErr = errors.New("insert failed")

	_, err := f.svc.Send(context.Background(), f.alice.ID, "hello")
	assert.Error(t, err)
	assert.Empty(t, f.publisher.events)
}

func TestNormalizeMessage(t *testing.T) {
	got, err := NormalizeMessage("  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = NormalizeMessage(" \n ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = NormalizeMessage(strings.Repeat("é", MaxMessageLength))
	assert.NoError(t, err)

	_, err = NormalizeMessage(strings.Repeat("a", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestList_OldestFirstWithSenders(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice.ID, "first")
	require.NoError(t, err)
	f.clock = f.clock.Add(time.Second)
	_, err = f.svc.Send(ctx, f.alice.ID, "second")
	require.NoError(t, err)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Message)
	assert.Equal(t, "second", list[1].Message)
	assert.Equal(t, "Alice", list[1].Sender.Name)
	assert.Nil(t, list[0].Receiver)
}

// Handlers

var testSecret = []byte("chat-secret")

func newChatMux(t *testing.T, f *chatFixture) (*http.ServeMux, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := NewHandlers(f.svc, m)
	authSvc := auth.NewService(nil, nil, nil, auth.ServiceConfig{Secret: string(testSecret), TokenTTL: time.Hour})

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/send-message", auth.Middleware(authSvc)(apperrors.HandleFunc(h.SendMessage)))
	mux.HandleFunc("GET /api/auth/get-messages", apperrors.HandleFunc(h.GetMessages))
	return mux, m
}

func tokenFor(t *testing.T, u *db.User) string {
	t.Helper()
	token, err := auth.IssueToken(auth.SessionClaims{UserID: u.ID.String(), Name: u.Name}, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func postMessage(mux http.Handler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-message", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSendMessageHandler(t *testing.T) {
	f := newChatFixture(t)
	mux, m := newChatMux(t, f)
	token := tokenFor(t, f.alice)

	rec := postMessage(mux, token, `{"senderId":"`+f.alice.ID.String()+`","message":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp SendMessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Message sent successfully", resp.Message)
	assert.Equal(t, "hello", resp.Data.Message)
	assert.Equal(t, "Alice", resp.Data.Sender.Name)
	assert.Equal(t, uint64(1), m.Counter(metrics.CounterMessagesSent))

	// senderId may be omitted.
	rec = postMessage(mux, token, `{"message":"again"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSendMessageHandler_Rejections(t *testing.T) {
	f := newChatFixture(t)
	mux, _ := newChatMux(t, f)
	token := tokenFor(t, f.alice)

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{"no token", "", `{"message":"hi"}`, http.StatusUnauthorized},
		{"bad token", "nope", `{"message":"hi"}`, http.StatusForbidden},
		{"impersonation", token, `{"senderId":"` + uuid.NewString() + `","message":"hi"}`, http.StatusForbidden},
		{"garbage sender id", token, `{"senderId":"42","message":"hi"}`, http.StatusForbidden},
		{"empty message", token, `{"message":"   "}`, http.StatusBadRequest},
		{"malformed body", token, `{`, http.StatusBadRequest},
		{"oversized body", token, `{"message":"` + strings.Repeat("a", apperrors.MaxJSONBodyBytes) + `"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postMessage(mux, tt.token, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	assert.Empty(t, f.messages.saved)
	assert.Empty(t, f.publisher.events)
}

func TestSendMessageHandler_StoreFailure(t *testing.T) {
	f := newChatFixture(t)
	f.messages.createErr = errors.New("insert failed")
	mux, _ := newChatMux(t, f)

	rec := postMessage(mux, tokenFor(t, f.alice), `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to send message")
	assert.NotContains(t, rec.Body.String(), "insert failed")
}

func TestGetMessagesHandler(t *testing.T) {
	f := newChatFixture(t)
	mux, _ := newChatMux(t, f)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/get-messages", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := f.svc.Send(context.Background(), f.alice.ID, "hello")
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0]["message"])
	assert.Nil(t, got[0]["receiver"])
	sender := got[0]["sender"].(map[string]any)
	assert.Equal(t, "Alice", sender["name"])
	assert.Equal(t, *f.alice.ProfilePicture, sender["profilePicture"])

	f.messages.listErr = errors.New("select failed")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
