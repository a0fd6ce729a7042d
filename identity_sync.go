package identity

import "context"

// IdentitySync pushes profile fields back into the provider's user metadata
// after a successful profile write. The metadata is a resilience copy used
// when the profile store is unreachable at resolution time; the Profile row
// stays authoritative, so sync failures are logged and never propagated.
type IdentitySync struct {
	provider MetadataWriter
	logger   Logger
}

type IdentitySyncOption func(*IdentitySync)

// WithIdentitySyncLogger overrides the sync logger.
func WithIdentitySyncLogger(logger Logger) IdentitySyncOption {
	return func(s *IdentitySync) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewIdentitySync(provider MetadataWriter, opts ...IdentitySyncOption) *IdentitySync {
	s := &IdentitySync{
		provider: provider,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Push mirrors {name, role, modules} into the provider metadata. Best effort:
// a failed push leaves the metadata stale until the next successful update.
func (s *IdentitySync) Push(ctx context.Context, profile *Profile) {
	if s == nil || s.provider == nil || profile == nil {
		return
	}

	data := map[string]any{
		"name":    profile.Name,
		"role":    profile.Role,
		"modules": profile.Modules,
	}

	if err := s.provider.UpdateUserMetadata(ctx, data); err != nil {
		s.logger.Warn("identity metadata sync failed", "profile_id", profile.ID.String(), "error", err)
	}
}
