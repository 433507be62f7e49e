// Package expo – push HTTP client
//
// This file implements the client for the Expo push HTTP API
// (POST https://exp.host/--/api/v2/push/send). The provider accepts at most
// a fixed number of messages per request, so SendBatch splits arbitrarily
// large message sequences into provider-sized chunks and flattens the
// returned tickets back into input order: tickets[i] always corresponds to
// messages[i].
//
// A chunk whose submission fails outright (network fault, provider outage,
// malformed response) is converted into one synthetic error ticket per
// message in that chunk; it never prevents the remaining chunks from being
// submitted. The only whole-call fault is a credentials rejection, since no
// chunk can succeed after that.
//
// The client performs no persistence. Interpreting tickets and reconciling
// token liveness belongs to the dispatch service.
package expo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Provider constants. The batch size is Expo's documented per-request
// maximum; it is configurable for tests but must never exceed 100 against
// the real service.
const (
	DefaultPushURL   = "https://exp.host/--/api/v2/push/send"
	DefaultBatchSize = 100

	DefaultSound     = "default"
	DefaultChannelID = "default"
	DefaultPriority  = "high"
)

// Message is one addressed notification in the provider wire format.
// Optional fields use omitempty because the provider treats presence as
// meaningful (an empty subtitle is not the same as no subtitle).
type Message struct {
	To         string         `json:"to"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
	Sound      string         `json:"sound,omitempty"`
	Badge      *int           `json:"badge,omitempty"`
	ChannelID  string         `json:"channelId,omitempty"`
	Subtitle   string         `json:"subtitle,omitempty"`
	CategoryID string         `json:"categoryId,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	TTL        int            `json:"ttl"`
}

// Ticket statuses as reported by the provider.
const (
	TicketOK    = "ok"
	TicketError = "error"
)

// ErrorReason classifies a provider rejection.
type ErrorReason string

const (
	ReasonDeviceNotRegistered ErrorReason = "DeviceNotRegistered"
	ReasonMessageTooBig       ErrorReason = "MessageTooBig"
	ReasonMessageRateExceeded ErrorReason = "MessageRateExceeded"
	ReasonInvalidCredentials  ErrorReason = "InvalidCredentials"
	ReasonOther               ErrorReason = "Other"
)

// TicketDetails carries the provider's machine-readable failure details.
type TicketDetails struct {
	Error         string `json:"error,omitempty"`
	ExpoPushToken string `json:"expoPushToken,omitempty"`
}

// Ticket is the per-message outcome of a submission attempt. An "ok" ticket
// carries a receipt ID usable for the provider's (unconsumed) second-phase
// receipt API; an "error" ticket carries a message and optional details.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// OK reports whether the provider accepted the message.
func (t Ticket) OK() bool { return t.Status == TicketOK }

// Reason maps an error ticket onto the ErrorReason enumeration. Unknown or
// absent detail codes collapse to ReasonOther. Calling Reason on an "ok"
// ticket returns the empty reason.
func (t Ticket) Reason() ErrorReason {
	if t.OK() {
		return ""
	}
	if t.Details == nil {
		return ReasonOther
	}
	switch ErrorReason(t.Details.Error) {
	case ReasonDeviceNotRegistered, ReasonMessageTooBig,
		ReasonMessageRateExceeded, ReasonInvalidCredentials:
		return ErrorReason(t.Details.Error)
	default:
		return ReasonOther
	}
}

// ErrUnauthorized is returned by SendBatch when the provider rejects the
// push credentials. It aborts the whole call: retrying remaining chunks
// with the same credentials cannot succeed.
var ErrUnauthorized = errors.New("expo: push credentials rejected")

// Client submits message batches to the Expo push service. It holds no
// mutable state beyond the embedded http.Client and is safe for concurrent
// use. Construct it once and inject it where a send capability is needed
// so tests can substitute a fake.
type Client struct {
	httpClient  *http.Client
	url         string
	accessToken string
	batchSize   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithBatchSize overrides the per-request message cap. Values < 1 are
// ignored.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.batchSize = n
		}
	}
}

// NewClient builds a Client for the given endpoint. accessToken may be
// empty when the Expo project does not enforce enhanced push security.
func NewClient(url, accessToken string, opts ...Option) *Client {
	if url == "" {
		url = DefaultPushURL
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		url:         url,
		accessToken: accessToken,
		batchSize:   DefaultBatchSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsPushToken delegates to the package-level validator so the provider
// client and the registration path share one notion of address validity.
func (c *Client) IsPushToken(s string) bool { return IsPushToken(s) }

// pushResponse is the provider's envelope: one ticket per submitted message,
// in submission order.
type pushResponse struct {
	Data []Ticket `json:"data"`
}

// SendBatch submits messages in provider-sized chunks and returns exactly
// one ticket per message, in input order.
//
// Unreachable chunks yield synthetic ReasonOther error tickets for their
// messages. The returned error is non-nil only for whole-call faults
// (context cancellation, credential rejection); in that case the tickets
// gathered so far are still returned so the caller can reconcile the
// outcomes that were learned before the fault.
func (c *Client) SendBatch(ctx context.Context, messages []Message) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(messages))

	for start := 0; start < len(messages); start += c.batchSize {
		end := start + c.batchSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		chunkTickets, err := c.sendChunk(ctx, chunk)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
				return tickets, err
			}
			log.Warn().Err(err).
				Int("chunk_size", len(chunk)).
				Msg("push chunk submission failed; synthesizing error tickets")
			chunkTickets = failedChunkTickets(chunk, err)
		}
		tickets = append(tickets, chunkTickets...)
	}
	return tickets, nil
}

// sendChunk submits one chunk and decodes its tickets. It guarantees a
// ticket count equal to len(chunk) on success by padding or truncating a
// malformed provider response.
func (c *Client) sendChunk(ctx context.Context, chunk []Message) ([]Ticket, error) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("submit chunk: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode tickets: %w", err)
	}

	// Positional correlation requires one ticket per message.
	if len(pr.Data) > len(chunk) {
		pr.Data = pr.Data[:len(chunk)]
	}
	for len(pr.Data) < len(chunk) {
		pr.Data = append(pr.Data, Ticket{
			Status:  TicketError,
			Message: "provider returned no ticket for this message",
		})
	}
	return pr.Data, nil
}

// failedChunkTickets fabricates one error ticket per message of an
// unreachable chunk so downstream reconciliation stays positional.
func failedChunkTickets(chunk []Message, cause error) []Ticket {
	out := make([]Ticket, len(chunk))
	for i := range chunk {
		out[i] = Ticket{
			Status:  TicketError,
			Message: cause.Error(),
		}
	}
	return out
}
