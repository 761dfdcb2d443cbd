package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Login.IssueSession != nil
}

func (s Service) PasswordLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	return RunPasswordLogin(ctx, email, password, s.deps.Login)
}

func (s Service) MFAVerify(ctx context.Context, token, otpCode, backupCode string) (*LoginResult, error) {
	return RunMFAVerify(ctx, token, otpCode, backupCode, s.deps.Login)
}

func (s Service) ResolveSSO(ctx context.Context, email, token string) SSOCandidate {
	return ResolveSSOCandidate(ctx, email, token, s.deps.Login)
}

func (s Service) SSOExchange(ctx context.Context, c SSOCandidate) (*LoginResult, error) {
	return RunSSOExchangeFor(ctx, c, s.deps.Login)
}

func (s Service) SSOInvalidate(ctx context.Context, userID, token string) error {
	return RunSSOInvalidate(ctx, userID, token, s.deps.Login.SSO)
}

func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	return RunRequestPasswordReset(ctx, email, s.deps.Reset)
}

func (s Service) CompletePasswordReset(ctx context.Context, token, password, confirmation string) (*ResetResult, error) {
	return RunCompletePasswordReset(ctx, token, password, confirmation, s.deps.Reset)
}
