// Package identity decides who is behind a request: an authenticated
// principal holding a valid bearer token, or an anonymous session carried in
// a cookie. Invalid credentials never fail a request; they fall back to the
// anonymous path.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vicaadrn/web-scanner-project/internal/logging"
	"github.com/Vicaadrn/web-scanner-project/internal/model"
)

// Resolver maps requests to identities.
type Resolver struct {
	verifier   CredentialVerifier
	principals PrincipalLookup
	cookies    CookiePolicy
	newID      func() string
	now        func() time.Time
	logger     logging.Logger
}

type ResolverOption func(*Resolver)

func WithCookiePolicy(p CookiePolicy) ResolverOption {
	return func(r *Resolver) { r.cookies = p }
}

func WithIDGenerator(f func() string) ResolverOption {
	return func(r *Resolver) { r.newID = f }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds a resolver. A nil verifier disables bearer credentials
// and a nil lookup trusts verified claims without checking the store.
func NewResolver(verifier CredentialVerifier, principals PrincipalLookup, logger logging.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = logging.Nop{}
	}
	r := &Resolver{
		verifier:   verifier,
		principals: principals,
		cookies:    DefaultCookiePolicy(),
		newID:      uuid.NewString,
		now:        time.Now,
		logger:     logger.With(logging.Component("identity")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the caller's identity and, when a new anonymous session
// was minted, the cookie the response must set.
func (r *Resolver) Resolve(req *http.Request) (model.Identity, *http.Cookie) {
	if id, ok := r.authenticate(req); ok {
		return id, nil
	}
	if c, err := req.Cookie(r.cookies.Name); err == nil && strings.TrimSpace(c.Value) != "" {
		return model.AnonymousIdentity(strings.TrimSpace(c.Value)), nil
	}
	sid := r.newID()
	return model.AnonymousIdentity(sid), r.cookies.Issue(sid, r.now())
}

// RenewCookie extends the anonymous cookie after an accepted submission.
func (r *Resolver) RenewCookie(w http.ResponseWriter, id model.Identity) {
	if !id.IsAnonymous() {
		return
	}
	http.SetCookie(w, r.cookies.Issue(id.SessionID, r.now()))
}

func (r *Resolver) authenticate(req *http.Request) (model.Identity, bool) {
	token := BearerToken(req)
	if token == "" || r.verifier == nil {
		return model.Identity{}, false
	}
	ctx := req.Context()
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.degraded(err)
		return model.Identity{}, false
	}
	p := model.Principal{ID: claims.PrincipalID, Email: claims.Email}
	if r.principals != nil {
		found, err := r.principals.GetPrincipal(ctx, claims.PrincipalID)
		if err != nil {
			r.degraded(err)
			return model.Identity{}, false
		}
		p = *found
	}
	return model.AuthenticatedIdentity(p), true
}

// degraded records a credential that was present but unusable. Details stay
// at debug level so verification internals are not surfaced.
func (r *Resolver) degraded(err error) {
	reason := "verification failed"
	if errors.Is(err, model.ErrPrincipalNotFound) {
		reason = "unknown principal"
	}
	r.logger.Debug("credential ignored",
		logging.Field{Key: "reason", Value: reason},
		logging.Err(err))
}

// BearerToken reads the Authorization header, then the token cookie.
func BearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(tok) != "" {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := req.Cookie(TokenCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(model.Identity)
	return id, ok
}

// Middleware resolves the identity once per request, sets any minted cookie
// and makes the identity available through FromContext.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, cookie := r.Resolve(req)
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
	})
}
