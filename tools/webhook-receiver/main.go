// Command webhook-receiver is a development build receiver for buildhook.
// It verifies signatures, dedupes on build_version and exposes what it saw
// on /stats.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

type payload struct {
	Event        string `json:"event"`
	Timestamp    int64  `json:"timestamp"`
	SiteURL      string `json:"site_url"`
	PostID       string `json:"post_id,omitempty"`
	BuildVersion string `json:"build_version"`
}

type request struct {
	ReceivedAt string  `json:"received_at"`
	DeliveryID string  `json:"delivery_id"`
	Signed     bool    `json:"signed"`
	Duplicate  bool    `json:"duplicate"`
	Payload    payload `json:"payload"`
}

type stats struct {
	Builds       int64     `json:"builds"`
	Duplicates   int64     `json:"duplicates"`
	Rejected     int64     `json:"rejected"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

type receiver struct {
	secret  string
	hookURL string
	maxSkew time.Duration

	mu           sync.Mutex
	seen         map[string]bool
	builds       int64
	duplicates   int64
	rejected     int64
	lastRequests []request
	since        time.Time
}

const maxStored = 50

func main() {
	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rcv := &receiver{
		secret:  os.Getenv("SECRET"),
		hookURL: os.Getenv("HOOK_URL"),
		maxSkew: 5 * time.Minute,
		seen:    make(map[string]bool),
		since:   time.Now().UTC(),
	}
	if v := os.Getenv("MAX_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("webhook-receiver: invalid MAX_SKEW %q: %v", v, err)
		}
		rcv.maxSkew = d
	}
	if rcv.secret != "" && rcv.hookURL == "" {
		log.Fatal("webhook-receiver: HOOK_URL must be the exact URL configured in buildhook when SECRET is set")
	}

	http.HandleFunc("/hook", rcv.hookHandler)
	http.HandleFunc("/stats", rcv.statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", rcv.resetHandler)

	log.Printf("webhook-receiver listening on %s (signed=%t)", addr, rcv.secret != "")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func (rcv *receiver) hookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil || p.BuildVersion == "" {
		rcv.reject(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if rcv.secret != "" {
		ts, err := strconv.ParseInt(r.Header.Get("X-Buildhook-Timestamp"), 10, 64)
		if err != nil {
			rcv.reject(w, http.StatusUnauthorized, "missing timestamp")
			return
		}
		if skew := time.Since(time.Unix(ts, 0)); skew > rcv.maxSkew || skew < -rcv.maxSkew {
			rcv.reject(w, http.StatusUnauthorized, "timestamp outside allowed skew")
			return
		}
		if !verifySignature(rcv.secret, rcv.hookURL, ts, r.Header.Get("X-Buildhook-Signature")) {
			rcv.reject(w, http.StatusUnauthorized, "bad signature")
			return
		}
	}

	req := request{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get("X-Buildhook-Delivery-ID"),
		Signed:     rcv.secret != "",
		Payload:    p,
	}

	rcv.mu.Lock()
	req.Duplicate = rcv.seen[p.BuildVersion]
	if req.Duplicate {
		rcv.duplicates++
	} else {
		rcv.seen[p.BuildVersion] = true
		rcv.builds++
	}
	rcv.lastRequests = append(rcv.lastRequests, req)
	if len(rcv.lastRequests) > maxStored {
		rcv.lastRequests = rcv.lastRequests[len(rcv.lastRequests)-maxStored:]
	}
	builds := rcv.builds
	rcv.mu.Unlock()

	if req.Duplicate {
		log.Printf("duplicate build_version=%s event=%s ignored", p.BuildVersion, p.Event)
	} else {
		log.Printf("build #%d: build_version=%s event=%s post_id=%s", builds, p.BuildVersion, p.Event, p.PostID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"builds":%d,"duplicate":%t}`, builds, req.Duplicate)
}

func (rcv *receiver) reject(w http.ResponseWriter, status int, reason string) {
	rcv.mu.Lock()
	rcv.rejected++
	rcv.mu.Unlock()
	log.Printf("rejected: %s", reason)
	http.Error(w, reason, status)
}

func (rcv *receiver) statsHandler(w http.ResponseWriter, _ *http.Request) {
	rcv.mu.Lock()
	s := stats{
		Builds:       rcv.builds,
		Duplicates:   rcv.duplicates,
		Rejected:     rcv.rejected,
		LastRequests: append([]request(nil), rcv.lastRequests...),
		Since:        rcv.since.Format(time.RFC3339),
	}
	rcv.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rcv *receiver) resetHandler(w http.ResponseWriter, _ *http.Request) {
	rcv.mu.Lock()
	rcv.seen = make(map[string]bool)
	rcv.builds, rcv.duplicates, rcv.rejected = 0, 0, 0
	rcv.lastRequests = nil
	rcv.since = time.Now().UTC()
	rcv.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}

// verifySignature mirrors buildhook: hex(HMAC-SHA256(secret, url + decimal timestamp)).
func verifySignature(secret, url string, timestamp int64, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(url))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
