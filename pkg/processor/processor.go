// Package processor implements the Internal Processor (C7, Tier-2): an
// in-process HTTP server that accepts forwarded events over HMAC-signed
// requests, re-validates and dispatches them synchronously, and tracks
// in-flight correlation state.
package processor

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/pkg/events"
	"github.com/cctelegram/bridge/pkg/validation"
)

// AllowedSkew bounds how far a request's timestamp may drift from server
// time before its HMAC signature is rejected as stale or forged-looking.
const AllowedSkew = 60 * time.Second

// Dispatcher synchronously delivers a re-validated event; the processor
// surfaces whatever error it returns as a downstream failure in the ack.
type Dispatcher interface {
	Dispatch(e events.Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(e events.Event) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(e events.Event) error { return f(e) }

// inFlight is a snapshot entry for one event currently being processed.
type inFlight struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Processor is the Tier-2 internal HTTP server.
type Processor struct {
	hmacSecret []byte
	validator  *validation.Validator
	dispatcher Dispatcher
	logger     *logrus.Logger

	mu       sync.Mutex
	inflight map[string]inFlight

	router chi.Router
}

// New builds a Processor. hmacSecret authenticates forwarded requests;
// dispatcher performs the actual delivery once an event passes
// re-validation.
func New(hmacSecret []byte, dispatcher Dispatcher, logger *logrus.Logger) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Processor{
		hmacSecret: hmacSecret,
		validator:  validation.New(),
		dispatcher: dispatcher,
		logger:     logger,
		inflight:   make(map[string]inFlight),
	}
	p.router = p.buildRouter()
	return p
}

// ServeHTTP implements http.Handler.
func (p *Processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.router.ServeHTTP(w, r)
}

func (p *Processor) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// Internal loopback API only, never a browser client: no origins are
	// allowed, which still lets go-chi/cors short-circuit preflights
	// cleanly instead of leaving them to hang on a 404.
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool { return false },
		AllowedMethods:  []string{"POST", "GET"},
		AllowedHeaders:  []string{"X-Signature", "X-Timestamp", "Content-Type"},
	}))
	r.Post("/internal/events", p.handleEvent)
	r.Get("/internal/inflight", p.handleInflight)
	return r
}

type ack struct {
	Accepted  bool   `json:"accepted"`
	Processed bool   `json:"processed"`
	AckID     string `json:"ack_id"`
	Error     string `json:"error,omitempty"`
}

func (p *Processor) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.writeAck(w, http.StatusBadRequest, ack{Error: "unreadable request body"})
		return
	}

	if err := p.verifySignature(r, body); err != nil {
		p.writeAck(w, http.StatusUnauthorized, ack{Error: err.Error()})
		return
	}

	var e events.Event
	if err := json.Unmarshal(body, &e); err != nil {
		p.writeAck(w, http.StatusBadRequest, ack{Error: "malformed event payload"})
		return
	}

	if err := p.validator.Validate(e); err != nil {
		p.writeAck(w, http.StatusUnprocessableEntity, ack{Accepted: true, Error: err.Error()})
		return
	}

	ackID := events.NewEventID()
	p.trackStart(e, ackID)
	defer p.trackEnd(ackID)

	if err := p.dispatcher.Dispatch(e); err != nil {
		p.writeAck(w, http.StatusBadGateway, ack{Accepted: true, AckID: ackID, Error: err.Error()})
		return
	}

	p.writeAck(w, http.StatusOK, ack{Accepted: true, Processed: true, AckID: ackID})
}

func (p *Processor) handleInflight(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	snapshot := make([]inFlight, 0, len(p.inflight))
	for _, v := range p.inflight {
		snapshot = append(snapshot, v)
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// verifySignature checks the X-Signature (hex HMAC-SHA256 over the raw
// body) and X-Timestamp headers, rejecting requests outside AllowedSkew to
// bound replay of a captured signature (spec §4.7).
func (p *Processor) verifySignature(r *http.Request, body []byte) error {
	sigHeader := r.Header.Get("X-Signature")
	if sigHeader == "" {
		return fmt.Errorf("missing X-Signature header")
	}
	tsHeader := r.Header.Get("X-Timestamp")
	if tsHeader == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}
	tsUnix, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed X-Timestamp header")
	}
	ts := time.Unix(tsUnix, 0)
	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > AllowedSkew {
		return fmt.Errorf("request timestamp outside allowed clock skew")
	}

	mac := hmac.New(sha256.New, p.hmacSecret)
	mac.Write([]byte(tsHeader))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(sigHeader)
	if err != nil {
		return fmt.Errorf("malformed X-Signature header")
	}
	if subtle.ConstantTimeCompare(expected, got) != 1 {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// Sign computes the X-Signature value a caller must send for body at
// timestamp ts, exported so the tier orchestrator's internal dispatcher can
// construct authenticated requests.
func Sign(hmacSecret []byte, ts time.Time, body []byte) (timestampHeader, signature string) {
	timestampHeader = strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, hmacSecret)
	mac.Write([]byte(timestampHeader))
	mac.Write(body)
	return timestampHeader, hex.EncodeToString(mac.Sum(nil))
}

func (p *Processor) trackStart(e events.Event, ackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[ackID] = inFlight{EventID: e.EventID, CorrelationID: e.CorrelationID, StartedAt: time.Now().UTC()}
}

func (p *Processor) trackEnd(ackID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, ackID)
}

func (p *Processor) writeAck(w http.ResponseWriter, status int, a ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(a)
	_, _ = w.Write(buf.Bytes())
}
