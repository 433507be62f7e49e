// Package services – DispatchService
//
// This file implements the fan-out dispatch engine: it resolves a target
// selector into the set of currently-active push tokens, defensively
// re-validates the addresses, builds provider messages with notification
// defaults, submits them through the gateway client, and reconciles the
// per-message tickets back into the registry (send bookkeeping on success,
// deactivation on permanent delivery failure).
//
// Reconciliation is positional: ticket[i] corresponds to message[i], so
// resolved-address order is preserved from resolution through submission.
// Registry mutations are applied as each ticket is inspected, not batched
// at the end, so a whole-call gateway fault after partial outcomes still
// reconciles what was learned. A bookkeeping failure for one address is
// logged and never aborts reconciliation of the remaining addresses.
//
// Observability: Dispatch is OpenTelemetry-instrumented and feeds the
// push_* Prometheus counters.
package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/mkaroulis/go-push-backend/internal/domain"
	"github.com/mkaroulis/go-push-backend/internal/expo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// pushSent counts messages the gateway accepted for delivery.
	pushSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_notifications_sent_total",
		Help: "Total number of push messages accepted by the gateway.",
	})

	// pushFailed counts messages the gateway rejected, by reason.
	pushFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_notifications_failed_total",
		Help: "Total number of push messages rejected by the gateway.",
	}, []string{"reason"})

	// tokensDeactivated counts tokens retired after the provider reported
	// them permanently undeliverable.
	tokensDeactivated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "push_tokens_deactivated_total",
		Help: "Total number of push tokens deactivated after DeviceNotRegistered.",
	})
)

func init() {
	prometheus.MustRegister(pushSent, pushFailed, tokensDeactivated)
}

// TokenResolver defines the registry contract required by DispatchService:
// active-token resolution plus the two per-address reconciliation
// mutations.
type TokenResolver interface {
	// FindActiveTokensByUser returns the active tokens owned by one user.
	FindActiveTokensByUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.PushToken, error)

	// FindActiveTokensByUsers returns the union of active tokens across users.
	FindActiveTokensByUsers(ctx context.Context, db *gorm.DB, userIDs []string) ([]domain.PushToken, error)

	// FindAllActiveTokens returns every active token in the registry.
	FindAllActiveTokens(ctx context.Context, db *gorm.DB) ([]domain.PushToken, error)

	// FindActiveTokensByDeviceType returns the active tokens of one device class.
	FindActiveTokensByDeviceType(ctx context.Context, db *gorm.DB, deviceType string) ([]domain.PushToken, error)

	// RecordSend bumps send bookkeeping for a gateway-accepted address.
	RecordSend(ctx context.Context, db *gorm.DB, token string) error

	// DeactivateToken retires an address the provider reported undeliverable.
	DeactivateToken(ctx context.Context, db *gorm.DB, token string) (bool, error)
}

// PushGateway is the send capability injected into the engine. The real
// implementation is expo.Client; tests substitute a deterministic fake.
type PushGateway interface {
	// SendBatch submits messages (chunking internally as needed) and
	// returns one ticket per message, in input order.
	SendBatch(ctx context.Context, messages []expo.Message) ([]expo.Ticket, error)
}

// Target kinds.
const (
	targetUser       = "user"
	targetUsers      = "users"
	targetAll        = "all"
	targetDeviceType = "device-type"
)

// Target selects the set of users or devices a dispatch fans out to.
// Construct one with ByUser, ByUsers, AllUsers, or ByDeviceType.
type Target struct {
	kind       string
	userID     string
	userIDs    []string
	deviceType string
}

// ByUser targets every active token of a single user.
func ByUser(userID string) Target { return Target{kind: targetUser, userID: userID} }

// ByUsers targets the union of active tokens across the given users.
func ByUsers(userIDs []string) Target { return Target{kind: targetUsers, userIDs: userIDs} }

// AllUsers targets every active token in the registry.
func AllUsers() Target { return Target{kind: targetAll} }

// ByDeviceType targets every active token of one device class.
func ByDeviceType(deviceType string) Target {
	return Target{kind: targetDeviceType, deviceType: deviceType}
}

// Kind returns a stable label for logging and tracing.
func (t Target) Kind() string { return t.kind }

// Notification is one logical notification before fan-out. Title and Body
// are required; everything else is optional. Zero values for Sound,
// ChannelID, and Priority take provider defaults at message-build time;
// Badge, Subtitle, and CategoryID are forwarded only when present because
// the provider treats field presence as meaningful.
type Notification struct {
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Data       map[string]any `json:"data,omitempty"`
	Sound      string         `json:"sound,omitempty"`
	Badge      *int           `json:"badge,omitempty"`
	ChannelID  string         `json:"channel_id,omitempty"`
	Subtitle   string         `json:"subtitle,omitempty"`
	CategoryID string         `json:"category_id,omitempty"`
	Priority   string         `json:"priority,omitempty"`
	TTL        int            `json:"ttl,omitempty"`
}

// Dispatch result reasons.
const (
	// ReasonNoActiveTokens: the resolved target set was empty. Normal
	// outcome, not a fault; the gateway is never contacted.
	ReasonNoActiveTokens = "no_active_tokens"

	// ReasonNoValidTokens: tokens resolved but every address failed
	// defensive re-validation. The gateway is never contacted.
	ReasonNoValidTokens = "no_valid_tokens"
)

// DispatchResult is the aggregate outcome of one dispatch call.
//
// Success=true means the send was attempted; per-message failures are
// reflected in ErrorCount, never silently dropped. Success=false with a
// Reason means nothing was attempted at all.
type DispatchResult struct {
	Success       bool     `json:"success"`
	Reason        string   `json:"reason,omitempty"`
	SentCount     int      `json:"sent_count"`
	ErrorCount    int      `json:"error_count"`
	TotalTargeted int      `json:"total_targeted"`
	InvalidTokens []string `json:"invalid_tokens,omitempty"`
	ReceiptIDs    []string `json:"receipt_ids,omitempty"`
}

// DispatchService coordinates resolution, submission, and reconciliation.
// It is safe for concurrent use: all mutable state lives in the registry,
// which serializes conflicting writes per record.
type DispatchService struct {
	// DB is the GORM handle used for registry access.
	DB *gorm.DB
	// Tokens is the registry contract.
	Tokens TokenResolver
	// Gateway is the injected send capability.
	Gateway PushGateway
}

// NewDispatchService constructs a DispatchService.
func NewDispatchService(db *gorm.DB, tokens TokenResolver, gw PushGateway) *DispatchService {
	return &DispatchService{DB: db, Tokens: tokens, Gateway: gw}
}

// Dispatch fans one notification out to every token selected by target.
//
// The returned error is non-nil only for validation failures and
// whole-call gateway faults (ErrGatewayUnavailable); per-message delivery
// failures are reported through the result counts. On a gateway fault the
// partially-filled result is returned alongside the error: outcomes learned
// before the fault are already reconciled.
func (s *DispatchService) Dispatch(ctx context.Context, target Target, n Notification) (*DispatchResult, error) {
	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "Dispatch",
		trace.WithAttributes(attribute.String("target.kind", target.Kind())),
	)
	defer span.End()

	if n.Title == "" || n.Body == "" {
		return nil, ErrEmptyNotification
	}

	tokens, err := s.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return &DispatchResult{Success: false, Reason: ReasonNoActiveTokens}, nil
	}

	// De-duplicate by address, preserving resolution order. Two users
	// sharing a device must not double-send or double-count.
	seen := make(map[string]struct{}, len(tokens))
	var valid, invalid []string
	for _, t := range tokens {
		if _, dup := seen[t.Token]; dup {
			continue
		}
		seen[t.Token] = struct{}{}

		// Addresses were validated at registration, but re-check so a
		// corrupt row can never be reported as sent.
		if expo.IsPushToken(t.Token) {
			valid = append(valid, t.Token)
		} else {
			invalid = append(invalid, t.Token)
		}
	}

	res := &DispatchResult{
		TotalTargeted: len(valid) + len(invalid),
		InvalidTokens: invalid,
	}
	if len(valid) == 0 {
		res.Reason = ReasonNoValidTokens
		return res, nil
	}

	messages := buildMessages(valid, n)

	tickets, gwErr := s.Gateway.SendBatch(ctx, messages)

	// Reconcile every ticket we did get, even when the call as a whole
	// failed part-way: those outcomes happened.
	for i, ticket := range tickets {
		s.reconcile(ctx, messages[i].To, ticket, res)
	}

	if gwErr != nil {
		log.Error().Err(gwErr).
			Str("target", target.Kind()).
			Int("reconciled", len(tickets)).
			Msg("push gateway whole-call fault")
		return res, ErrGatewayUnavailable
	}

	res.Success = true
	return res, nil
}

// resolve maps the target selector onto the matching registry query.
func (s *DispatchService) resolve(ctx context.Context, target Target) ([]domain.PushToken, error) {
	switch target.kind {
	case targetUser:
		return s.Tokens.FindActiveTokensByUser(ctx, s.DB, target.userID)
	case targetUsers:
		return s.Tokens.FindActiveTokensByUsers(ctx, s.DB, target.userIDs)
	case targetAll:
		return s.Tokens.FindAllActiveTokens(ctx, s.DB)
	case targetDeviceType:
		if !domain.ValidDeviceType(target.deviceType) {
			return nil, ErrInvalidDeviceType
		}
		return s.Tokens.FindActiveTokensByDeviceType(ctx, s.DB, target.deviceType)
	default:
		return nil, errors.New("unknown dispatch target")
	}
}

// reconcile applies one ticket to the result counts and the registry.
// Mutation failures are logged and swallowed: the gateway-facing outcome
// already happened, and a bookkeeping failure must not mask it.
func (s *DispatchService) reconcile(ctx context.Context, address string, ticket expo.Ticket, res *DispatchResult) {
	if ticket.OK() {
		res.SentCount++
		if ticket.ID != "" {
			res.ReceiptIDs = append(res.ReceiptIDs, ticket.ID)
		}
		pushSent.Inc()
		if err := s.Tokens.RecordSend(ctx, s.DB, address); err != nil {
			log.Warn().Err(err).Str("token", address).Msg("record send failed")
		}
		return
	}

	res.ErrorCount++
	reason := ticket.Reason()
	pushFailed.WithLabelValues(string(reason)).Inc()

	if reason != expo.ReasonDeviceNotRegistered {
		// Transient or request-shaped failure; the token may still be valid.
		return
	}

	// Permanent failure: stop selecting this address. Prefer the address
	// echoed by the provider when present.
	if ticket.Details != nil && ticket.Details.ExpoPushToken != "" {
		address = ticket.Details.ExpoPushToken
	}
	if _, err := s.Tokens.DeactivateToken(ctx, s.DB, address); err != nil {
		log.Warn().Err(err).Str("token", address).Msg("deactivate failed")
		return
	}
	tokensDeactivated.Inc()
}

// buildMessages turns validated addresses into provider messages, applying
// notification defaults.
func buildMessages(addresses []string, n Notification) []expo.Message {
	sound := n.Sound
	if sound == "" {
		sound = expo.DefaultSound
	}
	channel := n.ChannelID
	if channel == "" {
		channel = expo.DefaultChannelID
	}
	priority := n.Priority
	if priority == "" {
		priority = expo.DefaultPriority
	}

	out := make([]expo.Message, len(addresses))
	for i, addr := range addresses {
		out[i] = expo.Message{
			To:         addr,
			Title:      n.Title,
			Body:       n.Body,
			Data:       n.Data,
			Sound:      sound,
			Badge:      n.Badge,
			ChannelID:  channel,
			Subtitle:   n.Subtitle,
			CategoryID: n.CategoryID,
			Priority:   priority,
			TTL:        n.TTL,
		}
	}
	return out
}
