package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	x402 "github.com/tlguszz1010/Pixel-Pay"
)

// DefaultProofTTL bounds how long a committed proof is remembered. It must
// exceed the largest maxTimeoutSeconds a route offers.
const DefaultProofTTL = time.Hour

// RouteConfig prices one protected route.
type RouteConfig struct {
	Accepts     []x402.ResourceConfig
	Description string
	MimeType    string
}

// RoutesConfig maps "METHOD /path" (or "/path" for any method) to its price.
type RoutesConfig map[string]RouteConfig

// AuditSink receives guard decisions for the persisted audit trail.
type AuditSink interface {
	AppendLog(ctx context.Context, logType, message string, metadata map[string]interface{}) error
}

// PaymentState is the outcome of checking one request.
type PaymentState int

const (
	// StateFree means the route is not protected.
	StateFree PaymentState = iota
	// StateUnpaid means the handler must not run; a 402 is due.
	StateUnpaid
	// StatePaid means the proof verified and is held by this request.
	StatePaid
)

func (s PaymentState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateUnpaid:
		return "unpaid"
	case StatePaid:
		return "paid"
	default:
		return fmt.Sprintf("PaymentState(%d)", int(s))
	}
}

// RequestInfo is the transport-neutral view of an inbound request.
type RequestInfo struct {
	Method        string
	Path          string
	URL           string
	PaymentHeader string
}

// PaymentGuard decides per request whether payment is needed and whether the
// presented proof unlocks the route.
type PaymentGuard struct {
	service *x402.X402ResourceService
	ledger  *x402.ProofLedger
	routes  []*protectedRoute
	logger  *slog.Logger
	audit   AuditSink
}

type protectedRoute struct {
	method       string
	path         string
	config       RouteConfig
	requirements []x402.PaymentRequirements
}

// GuardOption configures a PaymentGuard
type GuardOption func(*PaymentGuard)

// WithLogger sets the guard's logger.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *PaymentGuard) {
		g.logger = logger
	}
}

// WithProofLedger shares a proof ledger between guards.
func WithProofLedger(ledger *x402.ProofLedger) GuardOption {
	return func(g *PaymentGuard) {
		g.ledger = ledger
	}
}

// WithAuditSink records every guard decision.
func WithAuditSink(sink AuditSink) GuardOption {
	return func(g *PaymentGuard) {
		g.audit = sink
	}
}

// NewPaymentGuard prices every route up front; a route whose price cannot be
// turned into a requirement is a configuration error.
func NewPaymentGuard(service *x402.X402ResourceService, routes RoutesConfig, opts ...GuardOption) (*PaymentGuard, error) {
	g := &PaymentGuard{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ledger == nil {
		g.ledger = x402.NewProofLedger(DefaultProofTTL)
	}

	for pattern, config := range routes {
		method, path := parseRoutePattern(pattern)
		if len(config.Accepts) == 0 {
			return nil, fmt.Errorf("route %q has no accepted payment options", pattern)
		}

		route := &protectedRoute{method: method, path: path, config: config}
		for _, accept := range config.Accepts {
			req, err := service.BuildPaymentRequirements(accept)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", pattern, err)
			}
			route.requirements = append(route.requirements, req)
		}
		g.routes = append(g.routes, route)
	}

	return g, nil
}

func parseRoutePattern(pattern string) (method, path string) {
	pattern = strings.TrimSpace(pattern)
	if i := strings.IndexByte(pattern, ' '); i > 0 {
		return strings.ToUpper(pattern[:i]), strings.TrimSpace(pattern[i+1:])
	}
	return "", pattern
}

func (g *PaymentGuard) match(method, path string) *protectedRoute {
	for _, route := range g.routes {
		if route.path != path {
			continue
		}
		if route.method == "" || strings.EqualFold(route.method, method) {
			return route
		}
	}
	return nil
}

// IsProtected reports whether a request to method and path needs payment.
func (g *PaymentGuard) IsProtected(method, path string) bool {
	return g.match(method, path) != nil
}

// Check runs the state machine for one request. Bad, mismatched, replayed or
// rejected proofs all yield StateUnpaid with a fresh requirement. An error is
// returned only when the authority cannot be reached.
func (g *PaymentGuard) Check(ctx context.Context, info RequestInfo) (*Payment, error) {
	route := g.match(info.Method, info.Path)
	if route == nil {
		return &Payment{State: StateFree}, nil
	}

	if info.PaymentHeader == "" {
		return g.unpaid(ctx, route, info, "Payment required")
	}

	payload, err := DecodePaymentSignature(info.PaymentHeader)
	if err != nil {
		return g.unpaid(ctx, route, info, "Invalid payment header")
	}
	if payload.X402Version != x402.ProtocolVersion {
		return g.unpaid(ctx, route, info, fmt.Sprintf("Unsupported x402 version %d", payload.X402Version))
	}

	matched, code := g.service.FindMatchingRequirements(route.requirements, payload)
	if matched == nil {
		return g.unpaid(ctx, route, info, "No matching payment requirements: "+code)
	}

	key, err := x402.ProofKey(payload)
	if err != nil {
		return g.unpaid(ctx, route, info, "Invalid payment payload")
	}
	if err := g.ledger.Claim(key); err != nil {
		return g.unpaid(ctx, route, info, x402.ErrCodeProofReplayed)
	}

	verify, err := g.service.VerifyPayment(ctx, payload, *matched)
	if err != nil {
		g.ledger.Release(key)

		var paymentErr *x402.PaymentError
		if errors.As(err, &paymentErr) {
			return g.unpaid(ctx, route, info, paymentErr.Message)
		}
		g.logger.Error("payment verification unavailable", "path", info.Path, "error", err)
		return nil, fmt.Errorf("verify payment: %w", err)
	}
	if !verify.IsValid {
		g.ledger.Release(key)
		return g.unpaid(ctx, route, info, verify.InvalidReason)
	}

	payer := verify.Payer
	if payer == "" {
		payer = x402.PayerOf(payload)
	}

	g.record(ctx, "Payment verified", map[string]interface{}{
		"path":  info.Path,
		"payer": payer,
		"state": StatePaid.String(),
	})

	return &Payment{
		State:        StatePaid,
		Payer:        payer,
		Payload:      payload,
		Requirements: *matched,
		guard:        g,
		route:        route,
		info:         info,
		key:          key,
	}, nil
}

func (g *PaymentGuard) unpaid(ctx context.Context, route *protectedRoute, info RequestInfo, reason string) (*Payment, error) {
	required := g.service.CreatePaymentRequired(route.requirements, x402.ResourceInfo{
		URL:         info.URL,
		Description: route.config.Description,
		MimeType:    route.config.MimeType,
	}, reason)

	header, err := EncodePaymentRequired(required)
	if err != nil {
		return nil, err
	}

	g.record(ctx, "Payment required", map[string]interface{}{
		"path":   info.Path,
		"reason": reason,
		"state":  StateUnpaid.String(),
	})

	return &Payment{
		State:    StateUnpaid,
		Required: &required,
		Header:   header,
		Reason:   reason,
		guard:    g,
		route:    route,
		info:     info,
	}, nil
}

func (g *PaymentGuard) record(ctx context.Context, message string, metadata map[string]interface{}) {
	g.logger.Debug(message, "metadata", metadata)
	if g.audit == nil {
		return
	}
	if err := g.audit.AppendLog(ctx, "guard", message, metadata); err != nil {
		g.logger.Warn("failed to record guard decision", "error", err)
	}
}

// Payment is the guard's verdict for one request. A paid payment holds its
// proof until it is settled or released.
type Payment struct {
	State PaymentState

	// Set when unpaid.
	Required *x402.PaymentRequired
	Header   string
	Reason   string

	// Set when paid.
	Payer        string
	Payload      x402.PaymentPayload
	Requirements x402.PaymentRequirements

	guard *PaymentGuard
	route *protectedRoute
	info  RequestInfo
	key   string

	mu         sync.Mutex
	settlement *x402.SettleResponse
	closed     bool
}

// Settle executes the payment through the authority. It runs at most once;
// later calls return the first settlement. On failure the proof claim is
// dropped and the error wraps x402.ErrPaymentVerificationFailed, so callers
// re-quote.
func (p *Payment) Settle(ctx context.Context) (*x402.SettleResponse, error) {
	if p.State != StatePaid {
		return nil, fmt.Errorf("cannot settle %s payment", p.State)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settlement != nil {
		return p.settlement, nil
	}
	if p.closed {
		return nil, fmt.Errorf("payment already released")
	}

	resp, err := p.guard.service.SettlePayment(ctx, p.Payload, p.Requirements)
	if err == nil && (resp == nil || !resp.Success) {
		reason := "settlement rejected"
		if resp != nil && resp.ErrorReason != "" {
			reason = resp.ErrorReason
		}
		err = errors.New(reason)
	}
	if err != nil {
		p.closed = true
		p.guard.ledger.Release(p.key)
		p.guard.logger.Warn("payment settlement failed", "payer", p.Payer, "error", err)
		p.guard.record(ctx, "Payment settlement failed", map[string]interface{}{
			"path":  p.info.Path,
			"payer": p.Payer,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", x402.ErrPaymentVerificationFailed, err)
	}

	if resp.Payer == "" {
		resp.Payer = p.Payer
	}
	if resp.Network == "" {
		resp.Network = p.Requirements.Network
	}

	p.closed = true
	p.settlement = resp
	p.guard.ledger.Commit(p.key)
	p.guard.record(ctx, "Payment settled", map[string]interface{}{
		"path":        p.info.Path,
		"payer":       p.Payer,
		"transaction": resp.Transaction,
	})

	return resp, nil
}

// Release gives the proof back without settling it, for handlers that
// failed or sold nothing. It is a no-op once the payment settled.
func (p *Payment) Release() {
	if p.State != StatePaid {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.guard.ledger.Release(p.key)
}

// Settlement returns the settlement result, or nil if not settled.
func (p *Payment) Settlement() *x402.SettleResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settlement
}

// Closed reports whether the payment was settled or released.
func (p *Payment) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Requote builds a fresh 402 for the same route, for handlers that reject a
// paid request after the fact.
func (p *Payment) Requote(ctx context.Context, reason string) (*Payment, error) {
	if p.route == nil {
		return nil, fmt.Errorf("cannot requote a free route")
	}
	return p.guard.unpaid(ctx, p.route, p.info, reason)
}
