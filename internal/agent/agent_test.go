package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/pocketd/internal/models"
)

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/command", r.URL.Path)

		var req commandRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "open settings", req.Prompt)

		json.NewEncoder(w).Encode(commandResponse{Result: "done", Turns: 3})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL+"/", time.Second).Run(context.Background(), "open settings")
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 3, res.Turns)
}

func TestRun_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(commandResponse{Error: "model overloaded"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Run(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestRun_Unreachable(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", time.Second).Run(context.Background(), "x")
	assert.Error(t, err)
}

func TestTriage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Contains(t, req.Prompt, "App: com.whatsapp")
		assert.Contains(t, req.Prompt, "Actions: Reply, Mark as read")

		json.NewEncoder(w).Encode(commandResponse{
			Result: `{"action": "ACT", "reason": "message from a friend"}` + "\nOpening WhatsApp...",
			Turns:  4,
		})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).Triage(context.Background(), models.NotificationEvent{
		PackageName: "com.whatsapp",
		Title:       "Alice",
		Text:        "are you coming?",
		Actions:     []string{"Reply", "Mark as read"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TriageAct, res.Action)
	assert.Equal(t, "message from a friend", res.Reason)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		action string
		reason string
	}{
		{"json", `{"action":"ignore","reason":"promo"}`, "ignore", "promo"},
		{"json after prose", "Looking at this...\n{\"action\": \"log\", \"reason\": \"delivery update\"}", "log", "delivery update"},
		{"skips unrelated json", `{"foo": 1} then {"action":"alert","reason":"bank"}`, "alert", "bank"},
		{"decision lines", "Decision: ACT\nReason: a friend asked a question", "act", "a friend asked a question"},
		{"bracketed decision", "**Decision:** [IGNORE]\n**Reason:** system noise", "ignore", "system noise"},
		{"custom label passes through", `{"action":"snooze","reason":"later"}`, "snooze", "later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestParseDecision_NoDecision(t *testing.T) {
	_, err := ParseDecision("I opened the app and replied.")
	assert.ErrorIs(t, err, ErrNoDecision)
}
