package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/latchkeyhq/latchkey/domain"
	"github.com/latchkeyhq/latchkey/hooks"
	"github.com/latchkeyhq/latchkey/notification"
	"github.com/latchkeyhq/latchkey/pkg/jwtx"
	"github.com/latchkeyhq/latchkey/pkg/slogx"
	"github.com/latchkeyhq/latchkey/store"
	"github.com/latchkeyhq/latchkey/store/drivers/sqlite"
	"github.com/latchkeyhq/latchkey/strategy"
	"github.com/latchkeyhq/latchkey/strategy/password"
	"github.com/latchkeyhq/latchkey/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordSink struct {
	mu     sync.Mutex
	events []hooks.Event
}

func (r *recordSink) Emit(_ context.Context, event hooks.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordSink) types() []hooks.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hooks.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	server *Server
	store  store.Store
	pw     *password.Strategy
	sink   *recordSink
}

func newEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sink := &recordSink{}
	pw := password.New(password.Config{})

	opts := Options{
		Store:       st,
		Strategies:  []strategy.Strategy{pw},
		TokenSecret: testSecret,
		Issuer:      "https://example.com",
		EventSink:   sink,
		Logger:      slogx.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: st, pw: pw, sink: sink}
}

func (e *testEnv) register(t *testing.T, username, email, pass string) domain.User {
	t.Helper()
	u, err := e.pw.Register(context.Background(), password.RegisterParams{
		Username: username, Email: email, Password: pass,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) login(t *testing.T, identity, pass string) domain.LoginResult {
	t.Helper()
	result, err := e.server.LoginWithService(context.Background(), "password",
		password.Params{Identity: identity, Password: pass}, domain.ConnectionInfo{IP: "10.0.0.1", UserAgent: "cli/1.0"})
	require.NoError(t, err)
	return result
}

// expiredTokens mints already-expired tokens with the server's secret, so
// tests can exercise the refresh rules without sleeping.
func expiredTokens(t *testing.T, sessionID, userID string, accessExpired, refreshExpired bool) (string, string) {
	t.Helper()

	signer, err := jwtx.NewSignerHS256("latchkey", []byte(testSecret))
	require.NoError(t, err)

	cfg := token.Config{
		Signer:   signer,
		Verifier: jwtx.NewVerifierHS256([]byte(testSecret)),
		Issuer:   "https://example.com",
	}
	if accessExpired {
		cfg.AccessTTL = -time.Hour
	}
	if refreshExpired {
		cfg.RefreshTTL = -time.Hour
	}
	m, err := token.NewManager(cfg)
	require.NoError(t, err)

	access, refresh, err := m.Pair(sessionID, userID, false)
	require.NoError(t, err)
	return access, refresh
}

func TestConstructionValidation(t *testing.T) {
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pw := password.New(password.Config{})

	t.Run("missing store", func(t *testing.T) {
		_, err := New(Options{Strategies: []strategy.Strategy{pw}, TokenSecret: testSecret})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("missing strategies", func(t *testing.T) {
		_, err := New(Options{Store: st, TokenSecret: testSecret})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := New(Options{Store: st, Strategies: []strategy.Strategy{pw}})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
	})

	t.Run("short secret", func(t *testing.T) {
		_, err := New(Options{Store: st, Strategies: []strategy.Strategy{pw}, TokenSecret: "short"})
		require.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

func TestLoginAndResume(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	u := env.register(t, "alice", "a@b.com", "hunter22")
	result := env.login(t, "a@b.com", "hunter22")

	require.NotEmpty(t, result.SessionID)
	require.NotEmpty(t, result.Tokens.AccessToken)
	require.NotEmpty(t, result.Tokens.RefreshToken)
	require.Equal(t, u.ID, result.User.ID)

	t.Run("token pair shares the session", func(t *testing.T) {
		ac, err := env.server.Tokens().DecodeAccess(result.Tokens.AccessToken, false)
		require.NoError(t, err)
		rc, err := env.server.Tokens().DecodeRefresh(result.Tokens.RefreshToken)
		require.NoError(t, err)
		require.Equal(t, result.SessionID, ac.SID)
		require.Equal(t, result.SessionID, rc.SID)
	})

	t.Run("resume returns the user", func(t *testing.T) {
		got, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
	})

	t.Run("returned users carry no secrets", func(t *testing.T) {
		require.Nil(t, result.User.Services)

		got, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
		require.NoError(t, err)
		require.Nil(t, got.Services)

		found, err := env.server.FindUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Nil(t, found.Services)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := env.server.LoginWithService(ctx, "carrier-pigeon", nil, domain.ConnectionInfo{})
		require.ErrorIs(t, err, ErrUnknownStrategy)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.server.LoginWithService(ctx, "password",
			password.Params{Identity: "a@b.com", Password: "nope"}, domain.ConnectionInfo{})
		require.ErrorIs(t, err, strategy.ErrAuthenticationFailed)
	})
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	env.register(t, "bob", "bob@example.com", "hunter22")
	result := env.login(t, "bob", "hunter22")

	require.NoError(t, env.server.Logout(ctx, result.Tokens.AccessToken))

	_, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalid)

	t.Run("logout is idempotent", func(t *testing.T) {
		require.NoError(t, env.server.Logout(ctx, result.Tokens.AccessToken))
	})

	t.Run("refresh after logout fails", func(t *testing.T) {
		_, err := env.server.RefreshTokens(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken, domain.ConnectionInfo{})
		require.ErrorIs(t, err, ErrSessionInvalid)
	})
}

func TestRefreshRotatesTokens(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	env.register(t, "carol", "carol@example.com", "hunter22")
	first := env.login(t, "carol", "hunter22")

	second, err := env.server.RefreshTokens(ctx, first.Tokens.AccessToken, first.Tokens.RefreshToken,
		domain.ConnectionInfo{IP: "10.0.0.2", UserAgent: "cli/2.0"})
	require.NoError(t, err)

	require.Equal(t, first.SessionID, second.SessionID)
	require.NotEqual(t, first.Tokens.AccessToken, second.Tokens.AccessToken)
	require.NotEqual(t, first.Tokens.RefreshToken, second.Tokens.RefreshToken)

	t.Run("connection info updated", func(t *testing.T) {
		sess, err := env.store.Sessions().GetSessionByID(ctx, first.SessionID)
		require.NoError(t, err)
		require.Equal(t, "10.0.0.2", sess.IP)
		require.Equal(t, "cli/2.0", sess.UserAgent)
	})

	t.Run("two refreshes yield two different pairs", func(t *testing.T) {
		third, err := env.server.RefreshTokens(ctx, second.Tokens.AccessToken, second.Tokens.RefreshToken, domain.ConnectionInfo{})
		require.NoError(t, err)
		require.NotEqual(t, second.Tokens.AccessToken, third.Tokens.AccessToken)
		require.NotEqual(t, second.Tokens.RefreshToken, third.Tokens.RefreshToken)
	})
}

func TestRefreshExpiryRules(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	u := env.register(t, "dave", "dave@example.com", "hunter22")
	live := env.login(t, "dave", "hunter22")

	t.Run("expired access token is tolerated", func(t *testing.T) {
		expiredAccess, _ := expiredTokens(t, live.SessionID, u.ID, true, false)

		result, err := env.server.RefreshTokens(ctx, expiredAccess, live.Tokens.RefreshToken, domain.ConnectionInfo{})
		require.NoError(t, err)
		require.Equal(t, live.SessionID, result.SessionID)
	})

	t.Run("expired refresh token never is", func(t *testing.T) {
		_, expiredRefresh := expiredTokens(t, live.SessionID, u.ID, false, true)

		_, err := env.server.RefreshTokens(ctx, live.Tokens.AccessToken, expiredRefresh, domain.ConnectionInfo{})
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("tampered access token fails even ignoring expiry", func(t *testing.T) {
		_, err := env.server.RefreshTokens(ctx, live.Tokens.AccessToken+"x", live.Tokens.RefreshToken, domain.ConnectionInfo{})
		require.Error(t, err)
	})
}

func TestRefreshTokenPairMismatch(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	env.register(t, "erin", "erin@example.com", "hunter22")
	a := env.login(t, "erin", "hunter22")
	b := env.login(t, "erin", "hunter22")
	require.NotEqual(t, a.SessionID, b.SessionID)

	_, err := env.server.RefreshTokens(ctx, a.Tokens.AccessToken, b.Tokens.RefreshToken, domain.ConnectionInfo{})
	require.ErrorIs(t, err, ErrTokenMismatch)
}

func TestRevocationIsMonotonic(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	env.register(t, "frank", "frank@example.com", "hunter22")
	result := env.login(t, "frank", "hunter22")

	require.NoError(t, env.store.Sessions().InvalidateSession(ctx, result.SessionID))

	_, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalid)

	_, err = env.server.RefreshTokens(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken, domain.ConnectionInfo{})
	require.ErrorIs(t, err, ErrSessionInvalid)

	t.Run("still revoked after refresh attempt", func(t *testing.T) {
		sess, err := env.store.Sessions().GetSessionByID(ctx, result.SessionID)
		require.NoError(t, err)
		require.False(t, sess.Valid)
	})
}

func TestDeactivatedUser(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	u := env.register(t, "grace", "grace@example.com", "hunter22")
	result := env.login(t, "grace", "hunter22")

	require.NoError(t, env.server.DeactivateUser(ctx, u.ID))

	t.Run("new logins rejected", func(t *testing.T) {
		_, err := env.server.LoginWithService(ctx, "password",
			password.Params{Identity: "grace", Password: "hunter22"}, domain.ConnectionInfo{})
		require.ErrorIs(t, err, ErrUserDeactivated)
	})

	t.Run("resume rejected", func(t *testing.T) {
		_, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
		require.ErrorIs(t, err, ErrUserDeactivated)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		_, err := env.server.RefreshTokens(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken, domain.ConnectionInfo{})
		require.ErrorIs(t, err, ErrUserDeactivated)
	})

	t.Run("reactivation restores login", func(t *testing.T) {
		require.NoError(t, env.server.ActivateUser(ctx, u.ID))
		env.login(t, "grace", "hunter22")
	})
}

func TestValidateLoginVeto(t *testing.T) {
	veto := errors.New("unverified email")
	env := newEnv(t, func(o *Options) {
		o.ValidateLogin = func(_ context.Context, user domain.User, _ domain.ConnectionInfo) error {
			if !user.HasVerifiedEmail() {
				return veto
			}
			return nil
		}
	})
	ctx := context.Background()

	u := env.register(t, "heidi", "heidi@example.com", "hunter22")

	_, err := env.server.LoginWithService(ctx, "password",
		password.Params{Identity: "heidi", Password: "hunter22"}, domain.ConnectionInfo{})
	require.ErrorIs(t, err, ErrNotAuthorized)
	require.ErrorIs(t, err, veto)

	t.Run("no session row was created", func(t *testing.T) {
		sessions, err := env.store.Sessions().GetSessionsByUserID(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)
		require.Zero(t, env.server.Metrics().LoginSuccess)
	})
}

func TestValidateResumeVeto(t *testing.T) {
	veto := errors.New("stale session")
	env := newEnv(t, func(o *Options) {
		o.ValidateResume = func(_ context.Context, _ domain.User, sess domain.Session) error {
			if sess.UserAgent == "cli/old" {
				return veto
			}
			return nil
		}
	})
	ctx := context.Background()

	env.register(t, "ivan", "ivan@example.com", "hunter22")

	result, err := env.server.LoginWithService(ctx, "password",
		password.Params{Identity: "ivan", Password: "hunter22"}, domain.ConnectionInfo{UserAgent: "cli/old"})
	require.NoError(t, err)

	_, err = env.server.ResumeSession(ctx, result.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAmbiguousErrorMessages(t *testing.T) {
	env := newEnv(t, func(o *Options) { o.AmbiguousErrorMessages = true })
	ctx := context.Background()

	env.register(t, "judy", "judy@example.com", "hunter22")

	_, unknownErr := env.server.LoginWithService(ctx, "password",
		password.Params{Identity: "nobody", Password: "hunter22"}, domain.ConnectionInfo{})
	_, wrongErr := env.server.LoginWithService(ctx, "password",
		password.Params{Identity: "judy", Password: "nope"}, domain.ConnectionInfo{})

	require.ErrorIs(t, unknownErr, strategy.ErrAuthenticationFailed)
	require.ErrorIs(t, wrongErr, strategy.ErrAuthenticationFailed)
	require.Equal(t, unknownErr.Error(), wrongErr.Error())

	t.Run("option reaches the strategy", func(t *testing.T) {
		// The strategy was constructed strict; the server must have
		// flipped it so an unknown identity takes the constant-cost
		// path instead of returning user-not-found.
		_, err := env.pw.Authenticate(ctx,
			password.Params{Identity: "nobody", Password: "hunter22"}, domain.ConnectionInfo{})
		require.ErrorIs(t, err, strategy.ErrAuthenticationFailed)
		require.NotErrorIs(t, err, strategy.ErrUserNotFound)
	})
}

func TestLoginThrottle(t *testing.T) {
	env := newEnv(t, func(o *Options) {
		o.Throttle = &ThrottleConfig{AttemptsPerWindow: 2, Window: time.Minute, Burst: 2}
	})
	ctx := context.Background()

	env.register(t, "kim", "kim@example.com", "hunter22")
	conn := domain.ConnectionInfo{IP: "10.0.0.9"}

	for i := 0; i < 2; i++ {
		_, err := env.server.LoginWithService(ctx, "password",
			password.Params{Identity: "kim", Password: "nope"}, conn)
		require.ErrorIs(t, err, strategy.ErrAuthenticationFailed)
	}

	_, err := env.server.LoginWithService(ctx, "password",
		password.Params{Identity: "kim", Password: "hunter22"}, conn)
	require.ErrorIs(t, err, ErrThrottled)

	t.Run("other callers unaffected", func(t *testing.T) {
		_, err := env.server.LoginWithService(ctx, "password",
			password.Params{Identity: "kim", Password: "hunter22"}, domain.ConnectionInfo{IP: "10.0.0.10"})
		require.NoError(t, err)
	})

	require.NotZero(t, env.server.Metrics().LoginThrottled)
}

func TestImpersonation(t *testing.T) {
	t.Run("default deny without a hook", func(t *testing.T) {
		env := newEnv(t, nil)
		ctx := context.Background()

		env.register(t, "admin", "admin@example.com", "hunter22")
		target := env.register(t, "target", "target@example.com", "hunter22")
		acting := env.login(t, "admin", "hunter22")

		result, err := env.server.Impersonate(ctx, acting.Tokens.AccessToken,
			ImpersonationTarget{Username: "target"}, domain.ConnectionInfo{})
		require.NoError(t, err)
		require.False(t, result.Authorized)
		require.Empty(t, result.SessionID)
		require.Empty(t, result.Tokens.AccessToken)

		sessions, err := env.store.Sessions().GetSessionsByUserID(ctx, target.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)
	})

	t.Run("hook denial creates no session", func(t *testing.T) {
		env := newEnv(t, func(o *Options) {
			o.ImpersonationAuthorize = func(context.Context, domain.User, domain.User) (bool, error) {
				return false, nil
			}
		})
		ctx := context.Background()

		env.register(t, "admin", "admin@example.com", "hunter22")
		target := env.register(t, "target", "target@example.com", "hunter22")
		acting := env.login(t, "admin", "hunter22")

		result, err := env.server.Impersonate(ctx, acting.Tokens.AccessToken,
			ImpersonationTarget{Username: "target"}, domain.ConnectionInfo{})
		require.NoError(t, err)
		require.False(t, result.Authorized)
		require.Zero(t, env.server.Metrics().Impersonations)

		sessions, err := env.store.Sessions().GetSessionsByUserID(ctx, target.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)
	})

	t.Run("authorized impersonation", func(t *testing.T) {
		env := newEnv(t, func(o *Options) {
			o.ImpersonationAuthorize = func(_ context.Context, actor, _ domain.User) (bool, error) {
				return actor.Username == "admin", nil
			}
		})
		ctx := context.Background()

		env.register(t, "admin", "admin@example.com", "hunter22")
		target := env.register(t, "target", "target@example.com", "hunter22")
		acting := env.login(t, "admin", "hunter22")

		result, err := env.server.Impersonate(ctx, acting.Tokens.AccessToken,
			ImpersonationTarget{Email: "target@example.com"}, domain.ConnectionInfo{})
		require.NoError(t, err)
		require.True(t, result.Authorized)
		require.Equal(t, target.ID, result.User.ID)
		require.Nil(t, result.User.Services)

		claims, err := env.server.Tokens().DecodeAccess(result.Tokens.AccessToken, false)
		require.NoError(t, err)
		require.True(t, claims.Impersonated)

		sess, err := env.store.Sessions().GetSessionByID(ctx, result.SessionID)
		require.NoError(t, err)
		require.True(t, sess.Impersonated)

		t.Run("impersonation survives refresh", func(t *testing.T) {
			rotated, err := env.server.RefreshTokens(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken, domain.ConnectionInfo{})
			require.NoError(t, err)

			claims, err := env.server.Tokens().DecodeAccess(rotated.Tokens.AccessToken, false)
			require.NoError(t, err)
			require.True(t, claims.Impersonated)
		})
	})

	t.Run("unknown target", func(t *testing.T) {
		env := newEnv(t, func(o *Options) {
			o.ImpersonationAuthorize = func(context.Context, domain.User, domain.User) (bool, error) {
				return true, nil
			}
		})
		env.register(t, "admin", "admin@example.com", "hunter22")
		acting := env.login(t, "admin", "hunter22")

		_, err := env.server.Impersonate(context.Background(), acting.Tokens.AccessToken,
			ImpersonationTarget{Username: "ghost"}, domain.ConnectionInfo{})
		require.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("ambiguous target spec", func(t *testing.T) {
		env := newEnv(t, nil)
		env.register(t, "admin", "admin@example.com", "hunter22")
		acting := env.login(t, "admin", "hunter22")

		_, err := env.server.Impersonate(context.Background(), acting.Tokens.AccessToken,
			ImpersonationTarget{Username: "a", Email: "a@b.com"}, domain.ConnectionInfo{})
		require.Error(t, err)
	})
}

func TestVerifyAuthentication(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	u := env.register(t, "lena", "lena@example.com", "hunter22")

	got, err := env.server.VerifyAuthentication(ctx, "password",
		password.Params{Identity: "lena", Password: "hunter22"}, domain.ConnectionInfo{})
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Nil(t, got.Services)

	t.Run("no session was created", func(t *testing.T) {
		sessions, err := env.store.Sessions().GetSessionsByUserID(ctx, u.ID)
		require.NoError(t, err)
		require.Empty(t, sessions)
		require.Zero(t, env.server.Metrics().LoginSuccess)
	})

	t.Run("bad credentials", func(t *testing.T) {
		_, err := env.server.VerifyAuthentication(ctx, "password",
			password.Params{Identity: "lena", Password: "nope"}, domain.ConnectionInfo{})
		require.ErrorIs(t, err, strategy.ErrAuthenticationFailed)
	})
}

func TestLifecycleEvents(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	env.register(t, "mona", "mona@example.com", "hunter22")
	result := env.login(t, "mona", "hunter22")

	_, err := env.server.ResumeSession(ctx, result.Tokens.AccessToken)
	require.NoError(t, err)
	_, err = env.server.RefreshTokens(ctx, result.Tokens.AccessToken, result.Tokens.RefreshToken, domain.ConnectionInfo{})
	require.NoError(t, err)
	require.NoError(t, env.server.Logout(ctx, result.Tokens.AccessToken))

	env.server.Close()

	types := env.sink.types()
	require.Contains(t, types, hooks.EventLoginSuccess)
	require.Contains(t, types, hooks.EventSessionResumed)
	require.Contains(t, types, hooks.EventSessionRefreshed)
	require.Contains(t, types, hooks.EventLogout)
}

type lastTokenSender struct {
	token string
}

func (s *lastTokenSender) Send(_ context.Context, msg notification.Message) error {
	s.token = msg.Token
	return nil
}

func TestStrategyEventsReachTheBus(t *testing.T) {
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sender := &lastTokenSender{}
	pw := password.New(password.Config{Sender: sender, Logger: slogx.Discard()})
	sink := &recordSink{}

	srv, err := New(Options{
		Store:       st,
		Strategies:  []strategy.Strategy{pw},
		TokenSecret: testSecret,
		EventSink:   sink,
		Logger:      slogx.Discard(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	u, err := pw.Register(ctx, password.RegisterParams{
		Username: "olive", Email: "olive@example.com", Password: "hunter22",
	})
	require.NoError(t, err)

	require.NoError(t, pw.RequestEmailVerification(ctx, "olive@example.com"))
	_, err = pw.VerifyEmail(ctx, sender.token)
	require.NoError(t, err)

	require.NoError(t, pw.RequestPasswordReset(ctx, "olive@example.com"))
	_, err = pw.ResetPassword(ctx, sender.token, "new-password")
	require.NoError(t, err)

	srv.Close()

	types := sink.types()
	require.Contains(t, types, hooks.EventEmailVerified)
	require.Contains(t, types, hooks.EventPasswordReset)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, event := range sink.events {
		require.Equal(t, u.ID, event.UserID)
		require.NotEmpty(t, event.ID)
	}
}

func TestTokenErrorsAreDistinguished(t *testing.T) {
	env := newEnv(t, nil)
	ctx := context.Background()

	u := env.register(t, "nina", "nina@example.com", "hunter22")
	live := env.login(t, "nina", "hunter22")

	expiredAccess, _ := expiredTokens(t, live.SessionID, u.ID, true, false)

	_, err := env.server.ResumeSession(ctx, expiredAccess)
	require.ErrorIs(t, err, jwtx.ErrExpired)

	_, err = env.server.ResumeSession(ctx, "garbage")
	require.ErrorIs(t, err, jwtx.ErrMalformed)

	_, err = env.server.ResumeSession(ctx, live.Tokens.AccessToken+"x")
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}
