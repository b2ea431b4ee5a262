package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testURL = "https://builds.example.com/hook"

func newReceiver(secret string) *receiver {
	return &receiver{
		secret:  secret,
		hookURL: testURL,
		maxSkew: 5 * time.Minute,
		seen:    make(map[string]bool),
		since:   time.Now().UTC(),
	}
}

func sign(secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(testURL + strconv.FormatInt(ts, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func post(rcv *receiver, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	rcv.hookHandler(w, req)
	return w
}

func TestHook_DedupesOnBuildVersion(t *testing.T) {
	rcv := newReceiver("")
	body := `{"event":"save_post","timestamp":1710000000,"build_version":"3"}`

	if w := post(rcv, body, nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicate":false`) {
		t.Fatalf("first delivery: %d %s", w.Code, w.Body.String())
	}
	if w := post(rcv, body, nil); !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("second delivery should be a duplicate: %s", w.Body.String())
	}
	if rcv.builds != 1 || rcv.duplicates != 1 {
		t.Errorf("builds=%d duplicates=%d, want 1/1", rcv.builds, rcv.duplicates)
	}
}

func TestHook_VerifiesSignature(t *testing.T) {
	rcv := newReceiver("s3cret")
	ts := time.Now().Unix()
	body := `{"event":"manual_trigger","timestamp":` + strconv.FormatInt(ts, 10) + `,"build_version":"1"}`
	tsHeader := strconv.FormatInt(ts, 10)

	w := post(rcv, body, map[string]string{
		"X-Buildhook-Timestamp": tsHeader,
		"X-Buildhook-Signature": sign("s3cret", ts),
	})
	if w.Code != http.StatusOK {
		t.Errorf("valid signature: expected 200, got %d", w.Code)
	}

	w = post(rcv, body, map[string]string{
		"X-Buildhook-Timestamp": tsHeader,
		"X-Buildhook-Signature": sign("wrong", ts),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad signature: expected 401, got %d", w.Code)
	}

	old := time.Now().Add(-time.Hour).Unix()
	w = post(rcv, body, map[string]string{
		"X-Buildhook-Timestamp": strconv.FormatInt(old, 10),
		"X-Buildhook-Signature": sign("s3cret", old),
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("stale timestamp: expected 401, got %d", w.Code)
	}
	if rcv.rejected != 2 {
		t.Errorf("rejected = %d, want 2", rcv.rejected)
	}
}

func TestHook_RejectsInvalidPayload(t *testing.T) {
	rcv := newReceiver("")

	if w := post(rcv, `{"event":"save_post"}`, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing build_version: expected 400, got %d", w.Code)
	}
}
