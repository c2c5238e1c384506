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
	"sync"
	"time"
)

const (
	headerSignature  = "X-EasyRemind-Signature"
	headerDeliveryID = "X-EasyRemind-Delivery-ID"
)

type request struct {
	Timestamp  string            `json:"timestamp"`
	DeliveryID string            `json:"delivery_id"`
	Verified   *bool             `json:"verified,omitempty"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

type stats struct {
	Count        int64     `json:"count"`
	Rejected     int64     `json:"rejected"`
	Duplicates   int64     `json:"duplicates"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	rejected     int64
	duplicates   int64
	seen         = make(map[string]struct{})
	lastRequests []request
	since        time.Time
	maxStored    = 50

	secret string
	// failEvery makes every Nth delivery return 500 to exercise retries.
	failEvery int64
)

func main() {
	since = time.Now().UTC()

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	secret = os.Getenv("WEBHOOK_SECRET")
	if v := os.Getenv("FAIL_EVERY"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &failEvery); err != nil {
			log.Fatalf("invalid FAIL_EVERY: %v", err)
		}
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count, rejected, duplicates = 0, 0, 0
		seen = make(map[string]struct{})
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s (signature check: %t)", addr, secret != "")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func verify(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		DeliveryID: r.Header.Get(headerDeliveryID),
		Headers:    headers,
		Body:       string(body),
	}

	if secret != "" {
		ok := verify(body, r.Header.Get(headerSignature))
		req.Verified = &ok
		if !ok {
			mu.Lock()
			rejected++
			mu.Unlock()
			log.Printf("hook rejected: bad signature (delivery %s)", req.DeliveryID)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	mu.Lock()
	count++
	// Delivery is at-least-once; retries reuse the delivery id.
	if req.DeliveryID != "" {
		if _, dup := seen[req.DeliveryID]; dup {
			duplicates++
		}
		seen[req.DeliveryID] = struct{}{}
	}
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	if failEvery > 0 && current%failEvery == 0 {
		log.Printf("hook #%d: simulated failure (delivery %s)", current, req.DeliveryID)
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}

	log.Printf("hook received #%d (delivery %s): %s", current, req.DeliveryID, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		Rejected:     rejected,
		Duplicates:   duplicates,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
