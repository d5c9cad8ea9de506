// Package webhook receives platform webhook deliveries: it verifies their
// HMAC signatures, drops redeliveries and dispatches each delivery to the
// function registered for its "<event>.<action>" key.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// MaxBodyBytes is the largest delivery the platform sends.
const MaxBodyBytes = 25 << 20

// Delivery headers.
const (
	HeaderEvent    = "X-GitHub-Event"
	HeaderDelivery = "X-GitHub-Delivery"
)

// Outcome labels of tagger_webhooks_total.
const (
	OutcomeHandled   = "handled"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var webhooksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tagger_webhooks_total",
		Help: "Webhook deliveries by dispatch key and outcome",
	},
	[]string{"event", "outcome"},
)

// Delivery is one verified webhook delivery.
type Delivery struct {
	ID      string
	Event   string
	Action  string
	Payload json.RawMessage
}

// Key returns the dispatch key: "<event>.<action>", or the bare event when
// the payload has no action.
func (d Delivery) Key() string {
	if d.Action == "" {
		return d.Event
	}
	return d.Event + "." + d.Action
}

// Decode unmarshals the delivery payload into T.
func Decode[T any](d Delivery) (T, error) {
	var out T
	if err := json.Unmarshal(d.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", d.Key(), err)
	}
	return out, nil
}

// HandlerFunc handles one delivery. A returned error answers 500.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Handler is the webhook endpoint.
type Handler struct {
	secret   []byte
	handlers map[string]HandlerFunc
	dedupe   Deduper
	logger   zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithDeduper drops deliveries whose id was already claimed.
func WithDeduper(d Deduper) Option {
	return func(h *Handler) {
		h.dedupe = d
	}
}

// NewHandler creates a webhook endpoint that verifies deliveries with
// secret.
func NewHandler(secret []byte, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		secret:   secret,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// On registers fn for a dispatch key such as "issues.opened". Registering
// a key twice replaces the earlier function. On is not safe to call while
// the handler serves requests.
func (h *Handler) On(key string, fn HandlerFunc) {
	h.handlers[key] = fn
}

type response struct {
	Message string `json:"message"`
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Message: message})
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	event := r.Header.Get(HeaderEvent)
	id := r.Header.Get(HeaderDelivery)
	logger := h.logger.With().Str("delivery", id).Str("event", event).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, logger, event, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.reject(w, logger, event, http.StatusBadRequest, "could not read body")
		return
	}

	if err := Verify(h.secret, body, r.Header); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrMissingSignature) {
			status = http.StatusBadRequest
		}
		logger.Warn().Err(err).Msg("Webhook signature check failed")
		h.reject(w, logger, event, status, err.Error())
		return
	}

	if event == "" {
		h.reject(w, logger, event, http.StatusBadRequest, "missing "+HeaderEvent+" header")
		return
	}

	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.reject(w, logger, event, http.StatusBadRequest, "payload is not a JSON object")
		return
	}

	delivery := Delivery{ID: id, Event: event, Action: envelope.Action, Payload: body}
	key := delivery.Key()
	logger = logger.With().Str("key", key).Logger()

	fn, ok := h.handlers[key]
	if !ok {
		webhooksTotal.WithLabelValues(event, OutcomeIgnored).Inc()
		logger.Debug().Msg("No handler registered, ignoring delivery")
		writeMessage(w, http.StatusOK, "ignored")
		return
	}

	claimed := false
	if h.dedupe != nil && id != "" {
		isNew, err := h.dedupe.Claim(r.Context(), id)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Delivery dedupe failed, handling anyway")
		case !isNew:
			webhooksTotal.WithLabelValues(key, OutcomeDuplicate).Inc()
			logger.Info().Msg("Duplicate delivery")
			writeMessage(w, http.StatusOK, "duplicate")
			return
		default:
			claimed = true
		}
	}

	logger.Info().Msg("Webhook received")
	if err := fn(r.Context(), delivery); err != nil {
		if claimed {
			if releaseErr := h.dedupe.Release(context.WithoutCancel(r.Context()), id); releaseErr != nil {
				logger.Warn().Err(releaseErr).Msg("Failed to release delivery")
			}
		}
		webhooksTotal.WithLabelValues(key, OutcomeFailed).Inc()
		logger.Error().Err(err).Msg("Webhook handler failed")
		writeMessage(w, http.StatusInternalServerError, "handler failed")
		return
	}

	webhooksTotal.WithLabelValues(key, OutcomeHandled).Inc()
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) reject(w http.ResponseWriter, logger zerolog.Logger, event string, status int, message string) {
	if event == "" {
		event = "unknown"
	}
	webhooksTotal.WithLabelValues(event, OutcomeRejected).Inc()
	logger.Debug().Int("status", status).Str("reason", message).Msg("Webhook rejected")
	writeMessage(w, status, message)
}
