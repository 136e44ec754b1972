// FILE: notify.go
// Package main – Best-effort messaging webhook.
//
// Accounts may carry a bot token + chat id pair in their configuration; when
// present, the daemon pushes plain-text notifications (manual-trade requests,
// for example) through the messaging API. Everything here is best-effort:
// a missing configuration is a silent no-op, failures are logged and
// swallowed. The daemon never depends on a notification being delivered.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const notifyTimeout = 5 * time.Second

// notifyBase is overridable for tests via NOTIFY_API_BASE.
func notifyBase() string {
	return strings.TrimRight(getEnv("NOTIFY_API_BASE", "https://api.telegram.org"), "/")
}

// notify sends text through the account's configured messaging bot.
// Reads "notify_bot_token" and "notify_chat_id" from the account config;
// skips silently when either is unset.
func notify(ctx context.Context, acct KV, text string) {
	token := acct.Str("notify_bot_token", "")
	chatID := acct.Str("notify_chat_id", "")
	if token == "" || chatID == "" {
		return
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", notifyBase(), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("[NOTIFY] build request: %v", err)
		IncNotifyFailure()
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("[NOTIFY] send: %v", err)
		IncNotifyFailure()
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[NOTIFY] send %d: %s", resp.StatusCode, string(body))
		IncNotifyFailure()
	}
}
