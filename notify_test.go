// FILE: notify_test.go
package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySendsConfiguredMessage(t *testing.T) {
	var sent atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottok-123/sendMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "chat-9", r.PostForm.Get("chat_id"))
		assert.Equal(t, "need trade: buy SS 3 x 70000", r.PostForm.Get("text"))
		sent.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()
	t.Setenv("NOTIFY_API_BASE", ts.URL)

	acct := KV{"notify_bot_token": "tok-123", "notify_chat_id": "chat-9"}
	notify(ctxT(t), acct, "need trade: buy SS 3 x 70000")
	assert.Equal(t, int32(1), sent.Load())
}

func TestNotifySkipsWhenUnconfigured(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent without a full notify config")
	}))
	defer ts.Close()
	t.Setenv("NOTIFY_API_BASE", ts.URL)

	notify(ctxT(t), KV{}, "hello")
	notify(ctxT(t), KV{"notify_bot_token": "tok"}, "hello")
	notify(ctxT(t), KV{"notify_chat_id": "chat"}, "hello")
}

func TestNotifySwallowsServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer ts.Close()
	t.Setenv("NOTIFY_API_BASE", ts.URL)

	// must not panic or propagate anything
	acct := KV{"notify_bot_token": "tok", "notify_chat_id": "chat"}
	notify(ctxT(t), acct, "hello")
}
