package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDingTalk_Send(t *testing.T) {
	var received map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errcode": 0}`))
	}))
	defer server.Close()

	d := NewDingTalk(server.URL+"?access_token=abc", "", zap.NewNop())
	err := d.send(Event{
		Type:    EventEntry,
		Symbol:  "BTCUSDT",
		Details: "opened LONG 0.5 @ 30000",
		At:      time.Now(),
	})

	require.NoError(t, err)
	assert.Equal(t, "text", received["msgtype"])
	text := received["text"].(map[string]interface{})
	assert.Contains(t, text["content"], "ENTRY")
	assert.Contains(t, text["content"], "BTCUSDT")
}

func TestDingTalk_SendFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDingTalk(server.URL, "", zap.NewNop())
	err := d.send(Event{Type: EventError, Symbol: "BTCUSDT", Details: "boom"})
	assert.Error(t, err)
}

func TestDingTalk_SignedURL(t *testing.T) {
	d := NewDingTalk("https://oapi.dingtalk.com/robot/send?access_token=abc", "secret", zap.NewNop())

	signed := d.signedURL()
	assert.True(t, strings.Contains(signed, "&timestamp="))
	assert.True(t, strings.Contains(signed, "&sign="))

	// Without a secret the URL passes through untouched.
	plain := NewDingTalk("https://example.com/hook", "", zap.NewNop())
	assert.Equal(t, "https://example.com/hook", plain.signedURL())
}

func TestEventString(t *testing.T) {
	e := Event{Type: EventSignal, Symbol: "ETHUSDT", Details: "LONG crossover"}
	assert.Equal(t, "[SIGNAL] ETHUSDT: LONG crossover", e.String())
}
