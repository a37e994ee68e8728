package identity

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pricewatch/internal/infrastructure"
)

const instrumentationName = "pricewatch.identity"

// errNoVerifier is reported when a credential arrives but nothing can check it
var errNoVerifier = errors.New("credential verification is not configured")

// Resolver turns the credential presented at connection time into an Identity
type Resolver struct {
	verifier CredentialVerifier
	logger   *slog.Logger
	tracer   trace.Tracer
	failures metric.Int64Counter
}

// NewResolver creates a resolver. A nil verifier makes every non-empty
// credential resolve to Guest.
func NewResolver(verifier CredentialVerifier, logger *slog.Logger) *Resolver {
	meter := otel.Meter(instrumentationName)
	failures, err := meter.Int64Counter(
		"chat_credential_failures_total",
		metric.WithDescription("Credentials that failed verification and were downgraded to guest"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &Resolver{
		verifier: verifier,
		logger:   infrastructure.WithComponent(logger, "identity.resolver"),
		tracer:   otel.Tracer(instrumentationName),
		failures: failures,
	}
}

// Resolve never fails. An empty credential is a guest without calling the
// verifier; a credential that does not verify is downgraded to a guest,
// logged at WARN and counted.
func (r *Resolver) Resolve(ctx context.Context, credential string) Identity {
	if credential == "" {
		return Guest()
	}

	ctx, span := r.tracer.Start(ctx, "identity.resolve")
	defer span.End()

	principal, err := r.verify(ctx, credential)
	if err != nil {
		r.logger.WarnContext(ctx, "credential verification failed, continuing as guest",
			slog.String("error", err.Error()))
		if r.failures != nil {
			r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", failureReason(err))))
		}
		span.SetAttributes(attribute.Bool("identity.guest", true))
		return Guest()
	}

	span.SetAttributes(attribute.Bool("identity.guest", false))
	return Authenticated(principal.UserID, displayName(principal))
}

func (r *Resolver) verify(ctx context.Context, credential string) (Principal, error) {
	if r.verifier == nil {
		return Principal{}, errNoVerifier
	}
	principal, err := r.verifier.VerifyCredential(ctx, credential)
	if err != nil {
		return Principal{}, err
	}
	if principal.UserID == "" {
		return Principal{}, ErrMissingUserID
	}
	return principal, nil
}

// displayName prefers the account name, then the e-mail, then the id
func displayName(p Principal) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Email != "":
		return p.Email
	default:
		return p.UserID
	}
}
