package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type PasswordResetRequestMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	RedirectTo string `json:"redirect_to,omitempty" doc:"Post-reset return location."`
	OnResponse func(resp *PasswordResetRequestResponse)
}

func (p PasswordResetRequestMessage) Type() string { return "identity.password_reset_request" }

type PasswordResetRequestResponse struct {
	Accepted bool
}

// PasswordResetRequestHandler asks the provider to send a reset email. The
// response never reveals whether the email belongs to an account.
type PasswordResetRequestHandler struct {
	provider PasswordResetSender
	logger   Logger
}

func NewPasswordResetRequestHandler(provider PasswordResetSender) *PasswordResetRequestHandler {
	return &PasswordResetRequestHandler{
		provider: provider,
		logger:   defLogger{},
	}
}

func (h *PasswordResetRequestHandler) WithLogger(logger Logger) *PasswordResetRequestHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *PasswordResetRequestHandler) Execute(ctx context.Context, event PasswordResetRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *PasswordResetRequestHandler) execute(ctx context.Context, event PasswordResetRequestMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := validation.Validate(event.Email, validation.Required, is.Email); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid email for password reset").
			WithMetadata(map[string]any{"email": event.Email})
	}

	resp := &PasswordResetRequestResponse{}

	if err := h.provider.ResetPasswordForEmail(ctx, event.Email, event.RedirectTo); err != nil {
		// unknown addresses look identical to known ones; only genuine
		// provider outages bubble up
		if IsNotFound(err) {
			h.logger.Debug("password reset requested for unknown email %s", event.Email)
		} else {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to request password reset")
		}
	}

	resp.Accepted = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
