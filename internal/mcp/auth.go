package mcp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerClientID  = "x-client-id"
	headerTS        = "x-ts"
	headerNonce     = "x-nonce"
	headerSignature = "x-signature"

	// Accepted clock skew for x-ts.
	tsWindow = 5 * time.Minute
)

// canonicalString is what clients sign: timestamp, method, path, client
// id, nonce and body joined by newlines.
func canonicalString(ts, method, pathname, clientID, nonce string, rawBody []byte) string {
	return ts + "\n" + strings.ToUpper(method) + "\n" + pathname + "\n" + strings.TrimSpace(clientID) + "\n" + strings.TrimSpace(nonce) + "\n" + string(rawBody)
}

func signHMAC(secret []byte, canonical string) string {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil))
}

type authResult struct {
	ClientID   string
	Nonce      string
	HTTPStatus int
	Message    string
}

func deny(msg string) authResult {
	return authResult{HTTPStatus: http.StatusUnauthorized, Message: msg}
}

func verifyHMAC(r *http.Request, rawBody []byte, secret []byte, now time.Time) authResult {
	clientID := strings.TrimSpace(r.Header.Get(headerClientID))
	if clientID == "" {
		return deny("missing " + headerClientID)
	}
	tsStr := strings.TrimSpace(r.Header.Get(headerTS))
	if tsStr == "" {
		return deny("missing " + headerTS)
	}
	nonce := strings.TrimSpace(r.Header.Get(headerNonce))
	if nonce == "" {
		return deny("missing " + headerNonce)
	}
	sig := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSignature)))
	if sig == "" {
		return deny("missing " + headerSignature)
	}

	tsMS, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return deny("bad " + headerTS)
	}
	if d := now.UnixMilli() - tsMS; d > tsWindow.Milliseconds() || d < -tsWindow.Milliseconds() {
		return deny(headerTS + " outside window")
	}

	want := signHMAC(secret, canonicalString(tsStr, r.Method, r.URL.Path, clientID, nonce, rawBody))
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return deny("bad signature")
	}
	return authResult{ClientID: clientID, Nonce: nonce}
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
