package mail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/retry"
)

func validMessage() Message {
	return Message{To: []string{"lead@example.com"}, Subject: "Welcome", HTML: "<p>hi</p>"}
}

func TestHTTPMailerPostsJSON(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	mailer := NewHTTPMailer(HTTPMailerConfig{Endpoint: server.URL, APIKey: "key-1", From: "team@leadcore.dev"})
	require.NoError(t, mailer.Send(context.Background(), validMessage()))

	assert.Equal(t, "team@leadcore.dev", received["from"])
	assert.Equal(t, "Welcome", received["subject"])
}

func TestHTTPMailerReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	mailer := NewHTTPMailer(HTTPMailerConfig{Endpoint: server.URL, APIKey: "key-1"})
	err := mailer.Send(context.Background(), validMessage())

	var statusErr *retry.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "maintenance", statusErr.Message)
	assert.True(t, retry.IsRecoverable(err))
}

func TestHTTPMailerRequiresConfiguration(t *testing.T) {
	mailer := NewHTTPMailer(HTTPMailerConfig{})
	assert.False(t, mailer.Available())
	assert.Error(t, mailer.Send(context.Background(), validMessage()))
}

func TestMessageValidation(t *testing.T) {
	mailer := NewLogMailer(nil)

	assert.ErrorIs(t, mailer.Send(context.Background(), Message{Subject: "x", Text: "y"}), ErrInvalidMessage)
	assert.ErrorIs(t, mailer.Send(context.Background(), Message{To: []string{"nobody"}, Subject: "x", Text: "y"}), ErrInvalidMessage)
	assert.ErrorIs(t, mailer.Send(context.Background(), Message{To: []string{"a@b.c"}, Text: "y"}), ErrInvalidMessage)
	assert.ErrorIs(t, mailer.Send(context.Background(), Message{To: []string{"a@b.c"}, Subject: "x"}), ErrInvalidMessage)

	require.NoError(t, mailer.Send(context.Background(), validMessage()))
	assert.Len(t, mailer.Sent(), 1)
}
