// Package server is the orchestrator: the single place session lifecycle
// invariants are enforced. Strategies prove identity, stores persist state,
// the token manager signs the results; this package ties them together and
// owns the session state machine (active, then revoked, never back).
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/pkg/jwtx"
	"github.com/latchkeyhq/latchkey/pkg/slogx"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/strategy"
	"github.com/latchkeyhq/latchkey/token"
)

// ValidateLoginFunc is the gating login hook. Called after the strategy
// authenticated the user and before any session exists; returning an error
// aborts the login (fail-closed).
type ValidateLoginFunc func(ctx context.Context, user domain.User, conn domain.ConnectionInfo) error

// ValidateResumeFunc is the gating resumption hook, e.g. "must have a
// verified email". Returning an error vetoes the resume.
type ValidateResumeFunc func(ctx context.Context, user domain.User, session domain.Session) error

// ImpersonationAuthorizeFunc decides whether the acting user may become the
// target. When unset, every impersonation is denied.
type ImpersonationAuthorizeFunc func(ctx context.Context, actor domain.User, target domain.User) (bool, error)

// Options configures a Server. Defaulting happens once in New, never
// per-call.
type Options struct {
	// Store is the persistence collaborator. Required.
	Store store.Store

	// Strategies are the authentication methods to register. At least one
	// is required; names must be unique.
	Strategies []strategy.Strategy

	// TokenSecret signs the HS256 session token pair. Required unless
	// Signer and Verifier are both set. Must be at least 32 bytes and
	// shared by every instance that should accept each other's tokens.
	TokenSecret string

	// Signer and Verifier override the HS256 default, e.g. for EdDSA.
	Signer   jwtx.Signer
	Verifier jwtx.Verifier

	// Issuer goes into minted tokens and is enforced on decode.
	// Typically the site URL.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Leeway tolerates clock skew between instances when decoding.
	Leeway time.Duration

	// AmbiguousErrorMessages collapses user-not-found into the generic
	// authentication failure on login paths, so callers cannot probe
	// which accounts exist. It is also pushed into every strategy that
	// implements strategy.AmbiguitySetter, which keeps the response
	// timing consistent with the message (the password strategy runs a
	// dummy hash verification on unknown identities).
	AmbiguousErrorMessages bool

	// ValidateLogin, ValidateResume gate logins and session resumption.
	ValidateLogin  ValidateLoginFunc
	ValidateResume ValidateResumeFunc

	// ImpersonationAuthorize gates impersonation. Nil means deny all.
	ImpersonationAuthorize ImpersonationAuthorizeFunc

	// EventSink receives observational lifecycle events, including the
	// ones strategies report through strategy.EventSinker (email
	// verified, password reset). Nil disables eventing entirely.
	EventSink hooks.Sink

	// EventBuffer and EventDropIfFull tune the event bus.
	EventBuffer     int
	EventDropIfFull bool

	// Throttle bounds login attempts per strategy and caller IP. Nil
	// disables throttling.
	Throttle *ThrottleConfig

	Logger *slog.Logger
}

// Server is safe for concurrent use. All state lives in the store; multiple
// instances sharing a store and a token secret form one logical server.
type Server struct {
	store    store.Store
	registry *strategy.Registry
	tokens   *token.Manager
	bus      *hooks.Bus
	throttle *throttle
	metrics  Metrics
	log      *slog.Logger

	ambiguous      bool
	validateLogin  ValidateLoginFunc
	validateResume ValidateResumeFunc
	authorizeImp   ImpersonationAuthorizeFunc
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfiguration)
	}
	if len(opts.Strategies) == 0 {
		return nil, fmt.Errorf("%w: at least one strategy is required", ErrInvalidConfiguration)
	}

	signer, verifier := opts.Signer, opts.Verifier
	if signer == nil || verifier == nil {
		if opts.TokenSecret == "" {
			return nil, fmt.Errorf("%w: token secret is required", ErrInvalidConfiguration)
		}
		var err error
		signer, err = jwtx.NewSignerHS256("latchkey", []byte(opts.TokenSecret))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		verifier = jwtx.NewVerifierHS256([]byte(opts.TokenSecret))
	}

	tokens, err := token.NewManager(token.Config{
		Signer:     signer,
		Verifier:   verifier,
		Issuer:     opts.Issuer,
		AccessTTL:  opts.AccessTokenTTL,
		RefreshTTL: opts.RefreshTokenTTL,
		Leeway:     opts.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	registry, err := strategy.NewRegistry(opts.Store, opts.Strategies...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	bus := hooks.NewBus(hooks.Config{
		BufferSize: opts.EventBuffer,
		DropIfFull: opts.EventDropIfFull,
	}, opts.EventSink)

	for _, strat := range opts.Strategies {
		if es, ok := strat.(strategy.EventSinker); ok {
			es.SetEvents(bus)
		}
		if as, ok := strat.(strategy.AmbiguitySetter); ok && opts.AmbiguousErrorMessages {
			as.SetAmbiguous(true)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slogx.New(slogx.Config{Service: "latchkey"})
	}

	var thr *throttle
	if opts.Throttle != nil {
		thr = newThrottle(*opts.Throttle)
	}

	return &Server{
		store:          opts.Store,
		registry:       registry,
		tokens:         tokens,
		bus:            bus,
		throttle:       thr,
		log:            logger,
		ambiguous:      opts.AmbiguousErrorMessages,
		validateLogin:  opts.ValidateLogin,
		validateResume: opts.ValidateResume,
		authorizeImp:   opts.ImpersonationAuthorize,
	}, nil
}

// Close drains and stops the event bus. The store is the caller's to close.
func (s *Server) Close() {
	s.bus.Close()
}

// Tokens exposes the token manager, e.g. for transports that need to decode
// access tokens themselves.
func (s *Server) Tokens() *token.Manager { return s.tokens }

// Metrics exposes the orchestrator counters.
func (s *Server) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// Strategies lists the registered strategy names.
func (s *Server) Strategies() []string { return s.registry.Names() }

func (s *Server) emit(ctx context.Context, event hooks.Event) {
	s.bus.Emit(ctx, event)
}

// logger prefers a request-scoped logger stashed on the context over the
// server's own.
func (s *Server) logger(ctx context.Context) *slog.Logger {
	return slogx.FromContext(ctx, s.log)
}
