package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/undownding/ai-gallery/api"
)

// ErrLoginIncomplete is returned when the browser window was closed or
// the flow timed out before the callback delivered an outcome.
var ErrLoginIncomplete = errors.New("login did not complete")

// LoginError carries the reason the server's callback reported, e.g.
// "access_denied" or "exchange_failed".
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string {
	return "login failed: " + e.Reason
}

const defaultLoginTimeout = 3 * time.Minute

// LoginFlow runs the interactive browser login. It listens on an
// ephemeral loopback port, sends the user's browser to the server's
// authorize endpoint with the listener as the return path, and waits for
// the callback redirect carrying the relay message. Only messages
// addressed to the flow's unguessable path and typed as ours are
// accepted; everything else is ignored.
type LoginFlow struct {
	Manager *Manager

	// OpenBrowser launches the user's browser at the given URL. Nil
	// falls back to the platform opener.
	OpenBrowser func(url string) error

	// Timeout bounds the wait for the callback. Zero means the default.
	Timeout time.Duration
}

// Run executes the flow and returns the logged-in user. The session is
// installed into the Manager before Run returns.
func (f *LoginFlow) Run(ctx context.Context) (*api.User, error) {
	timeout := f.Timeout
	if timeout == 0 {
		timeout = defaultLoginTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}

	pathToken, err := newPathToken()
	if err != nil {
		listener.Close()
		return nil, err
	}
	relayPath := "/relay/" + pathToken

	outcomes := make(chan relayOutcome, 1)
	srv := &http.Server{Handler: relayHandler(relayPath, outcomes, f.Manager.logger)}
	go srv.Serve(listener)
	defer srv.Close()

	relayURL := fmt.Sprintf("http://%s%s", listener.Addr().String(), relayPath)
	loginURL := f.Manager.baseURL + "/auth/github?redirect_to=" + url.QueryEscape(relayURL)

	open := f.OpenBrowser
	if open == nil {
		open = openBrowser
	}
	if err := open(loginURL); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}

	select {
	case outcome := <-outcomes:
		if outcome.err != nil {
			return nil, outcome.err
		}
		if err := f.Manager.SetSession(outcome.result); err != nil {
			return nil, err
		}
		user := outcome.result.User
		return &user, nil
	case <-ctx.Done():
		return nil, ErrLoginIncomplete
	}
}

type relayOutcome struct {
	result *api.LoginResult
	err    error
}

// relayHandler accepts exactly one well-formed relay message on the
// expected path. Requests to any other path, or carrying a message of
// the wrong type, get no acknowledgement and do not settle the flow.
func relayHandler(relayPath string, outcomes chan<- relayOutcome, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != relayPath {
			http.NotFound(w, r)
			return
		}
		msg, ok := decodeRelayMessage(r.URL.Query().Get("payload"))
		if !ok {
			logger.Warn("ignoring malformed callback payload")
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		var outcome relayOutcome
		switch {
		case msg.Status == api.StatusSuccess && msg.Result != nil:
			outcome = relayOutcome{result: msg.Result}
			fmt.Fprint(w, "<html><body>Login complete. You can close this window.</body></html>")
		default:
			reason := msg.Reason
			if reason == "" {
				reason = "unknown"
			}
			outcome = relayOutcome{err: &LoginError{Reason: reason}}
			fmt.Fprintf(w, "<html><body>Login failed: %s. You can close this window.</body></html>", reason)
		}
		select {
		case outcomes <- outcome:
		default:
		}
	})
}

func decodeRelayMessage(payload string) (*api.RelayMessage, bool) {
	if payload == "" {
		return nil, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	var msg api.RelayMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, false
	}
	if msg.Type != api.MessageType {
		return nil, false
	}
	return &msg, true
}

func newPathToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate callback token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
