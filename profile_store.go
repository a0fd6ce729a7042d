package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the store backing profile resolution. Get distinguishes
// expected absence from transient failure; Create reports concurrent-create
// collisions; Update reports rows that vanished between read and write. These
// are the three signals resolution fallbacks branch on.
type Profiles interface {
	Get(ctx context.Context, id uuid.UUID) (*Profile, error)
	Create(ctx context.Context, profile *Profile) (*Profile, error)
	Update(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*Profile, error)
	GetOrCreate(ctx context.Context, profile *Profile) (*Profile, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db     *bun.DB
	logger Logger
}

var _ Profiles = (*profiles)(nil)

type ProfilesOption func(*profiles)

// WithProfilesLogger overrides the store logger.
func WithProfilesLogger(logger Logger) ProfilesOption {
	return func(p *profiles) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProfilesRepository(db *bun.DB, opts ...ProfilesOption) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	store := &profiles{
		Repository: repo,
		db:         db,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

func (p *profiles) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	record := &Profile{}

	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, profileNotFound(id.String())
		}
		return nil, transientError(err, "failed to retrieve profile")
	}

	return record, nil
}

func (p *profiles) Create(ctx context.Context, profile *Profile) (*Profile, error) {
	if profile == nil {
		return nil, errors.New("profile is required", errors.CategoryBadInput)
	}

	profile.EnsureDefaults()

	created, err := p.Repository.Create(ctx, profile)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, profileConflict(profile.ID.String())
		}
		return nil, transientError(err, "failed to create profile")
	}

	return created, nil
}

func (p *profiles) Update(ctx context.Context, id uuid.UUID, update ProfileUpdate) (*Profile, error) {
	if err := update.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid profile update")
	}

	record := &Profile{ID: id}
	update.Apply(record)
	now := time.Now()
	record.UpdatedAt = &now

	res, err := p.db.NewUpdate().
		Model(record).
		Column(update.columns()...).
		WherePK().
		Exec(ctx)

	if err != nil {
		return nil, transientError(err, "failed to update profile")
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return nil, profileNotFound(id.String())
	}

	return p.Get(ctx, id)
}

func (p *profiles) GetOrCreate(ctx context.Context, profile *Profile) (*Profile, error) {
	existing, err := p.Get(ctx, profile.ID)
	if err == nil {
		return existing, nil
	}

	if !IsNotFound(err) {
		return nil, err
	}

	created, err := p.Create(ctx, profile)
	if err == nil {
		return created, nil
	}

	// a concurrent create beat us; the row exists now
	if IsConflict(err) {
		return p.Update(ctx, profile.ID, ProfileUpdate{})
	}

	return nil, err
}

// columns lists the touched column set for a partial write. updated_at is
// always bumped so an empty update still produces a valid statement.
func (u ProfileUpdate) columns() []string {
	cols := []string{"updated_at"}
	if u.Name != nil {
		cols = append(cols, "name")
	}
	if u.Email != nil {
		cols = append(cols, "email")
	}
	if u.Role != nil {
		cols = append(cols, "role")
	}
	if u.Avatar != nil {
		cols = append(cols, "avatar")
	}
	if u.Modules != nil {
		cols = append(cols, "modules")
	}
	if u.EmployeeID != nil {
		cols = append(cols, "employee_id")
	}
	return cols
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
