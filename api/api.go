// Package api exposes the sync server's REST surface: account
// registration and login, ciphertext blob storage, share grants, and the
// websocket sync endpoint. Every payload the API accepts or returns is
// either ciphertext or public derivation metadata; handlers never see a
// key or a plaintext note.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/inkwell/relay"
	"github.com/jmcleod/inkwell/share"
	"github.com/jmcleod/inkwell/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	accounts    storage.AccountStore
	blobs       storage.BlobStore
	grants      storage.GrantStore
	shares      *share.Service
	tokens      *relay.Signer
	verifier    *relay.Verifier
	sync        http.Handler
	rateLimiter *loginRateLimiter
	audit       *auditLogger
	logger      *slog.Logger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// New creates a new API instance. The token key signs the session tokens
// returned by login; the relay mounted at /sync validates them with the
// same key.
func New(accounts storage.AccountStore, blobs storage.BlobStore, grants storage.GrantStore, tokenKey []byte, opts ...Option) *API {
	a := &API{
		accounts:    accounts,
		blobs:       blobs,
		grants:      grants,
		shares:      share.NewService(grants),
		tokens:      relay.NewSigner(tokenKey),
		verifier:    relay.NewVerifier(tokenKey),
		rateLimiter: newLoginRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	a.sync = relay.New(a.verifier, relay.WithLogger(a.logger))
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Post("/auth/register", a.Register)
	r.Get("/auth/profile/{principal}", a.GetProfile)
	r.Post("/auth/login", a.Login)

	r.Route("/blobs/{locator}", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Put("/", a.PutBlob)
		r.Get("/", a.GetBlob)
	})

	r.With(a.AuthMiddleware).Post("/grants", a.CreateGrant)
	r.With(a.AuthMiddleware).Delete("/grants/{grantID}", a.RevokeGrant)
	// Redemption needs no session: the link fragment key is the
	// capability. The server only meters uses and returns ciphertext.
	r.Post("/grants/{grantID}/redeem", a.RedeemGrant)

	r.Handle("/sync", a.sync)

	return r
}
