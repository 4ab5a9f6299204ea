package alert_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aretw0/forkline/internal/alert"
	"github.com/aretw0/forkline/internal/config"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path string
	body map[string]string
}

func recorder(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = append(got, captured{path: r.URL.Path, body: body})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestTelegram(t *testing.T) {
	srv, got := recorder(t, http.StatusOK)
	tg := &alert.Telegram{BaseURL: srv.URL, Token: "123:abc", ChatID: "42", Client: srv.Client()}

	require.NoError(t, tg.Notify(context.Background(), "rotated"))
	require.Len(t, *got, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", (*got)[0].path)
	assert.Equal(t, map[string]string{"chat_id": "42", "text": "rotated", "parse_mode": "Markdown"}, (*got)[0].body)
}

func TestDiscord(t *testing.T) {
	srv, got := recorder(t, http.StatusNoContent)
	d := &alert.Discord{Webhook: srv.URL + "/api/webhooks/1/x", Client: srv.Client()}

	require.NoError(t, d.Notify(context.Background(), "cleanup failed"))
	require.Len(t, *got, 1)
	assert.Equal(t, "cleanup failed", (*got)[0].body["content"])
}

func TestMulti_JoinsFailures(t *testing.T) {
	ok, okGot := recorder(t, http.StatusOK)
	bad, _ := recorder(t, http.StatusInternalServerError)

	m := alert.Multi{
		&alert.Discord{Webhook: bad.URL, Client: bad.Client()},
		&alert.Discord{Webhook: ok.URL, Client: ok.Client()},
	}

	err := m.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Len(t, *okGot, 1, "one failure does not stop the others")
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, ports.NopNotifier{}, alert.FromConfig(config.Alerts{}))
	assert.IsType(t, ports.NopNotifier{}, alert.FromConfig(config.Alerts{TelegramToken: "t"}), "chat id required")

	n := alert.FromConfig(config.Alerts{TelegramToken: "t", TelegramChatID: "c", DiscordWebhook: "https://discord.invalid/x"})
	multi, ok := n.(alert.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

type failing struct{}

func (failing) Notify(context.Context, string) error { return errors.New("down") }

func TestSend_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, 0, "text")

	alert.Send(context.Background(), failing{}, logger, "msg")
	assert.Contains(t, buf.String(), "alert delivery failed")
	assert.Contains(t, buf.String(), "err=down")
}
