package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Authenticator is the engine surface the HTTP layer drives.
type Authenticator interface {
	Login(ctx context.Context, req authgate.LoginRequest) (*authgate.LoginResult, error)
	ValidateSession(ctx context.Context, accessToken string) (*authgate.SessionInfo, error)
	Logout(ctx context.Context, accessToken string) error
	ExternalIdentityToken(ctx context.Context, accessToken string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, req authgate.ResetRequest) (*authgate.Session, error)
	Ping(ctx context.Context) error
}

type Options struct {
	Logger *slog.Logger
	// AccessLog receives Apache combined log lines. Nil disables access logging.
	AccessLog io.Writer
	// LoginPageURL is where GET /auth/sign_in redirects.
	LoginPageURL string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type Server struct {
	engine Authenticator
	logger *slog.Logger
	opts   Options
	router *mux.Router
}

func New(engine Authenticator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: engine,
		logger: logger,
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(requestID, middleware.ClientMeta)

	r.HandleFunc("/auth/sign_in", s.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/auth/sign_in", s.handleSignInPage).Methods(http.MethodGet)
	r.HandleFunc("/auth/sign_out", s.handleSignOut).Methods(http.MethodDelete)
	r.HandleFunc("/auth/password", s.handlePasswordRequest).Methods(http.MethodPost)
	r.HandleFunc("/auth/password", s.handlePasswordUpdate).Methods(http.MethodPut)
	r.Handle("/auth/external_token", middleware.Guard(s.engine)(http.HandlerFunc(s.handleExternalToken))).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped in panic recovery and, when
// configured, access logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
	)(s.router)
	if s.opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.opts.AccessLog, h)
	}
	return h
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("http handler panicked", "error", fmt.Sprint(v...))
}

type requestIDContextKey struct{}

const requestIDHeader = "X-Request-Id"

// requestID reuses a well-formed incoming X-Request-Id or mints one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) log(r *http.Request) *slog.Logger {
	id, _ := r.Context().Value(requestIDContextKey{}).(string)
	return s.logger.With("request_id", id, "path", r.URL.Path)
}
