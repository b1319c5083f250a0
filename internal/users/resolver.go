package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMissingIdentity indicates the caller supplied neither an external id nor an email.
	ErrMissingIdentity = errors.New("users: identity reference required")
	// ErrIncompleteIdentity indicates a create was requested without both identifying fields.
	ErrIncompleteIdentity = errors.New("users: external id and email required to create")
	// ErrUserNotFound indicates no account matches the supplied reference.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrStore indicates the persistence layer could not complete the operation.
	ErrStore = errors.New("users: store failure")

	errMissingDatabase = errors.New("users: database connection required")
)

// ResolverConfig describes the dependencies required for identity resolution.
type ResolverConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Resolver maps provider-issued identity references to canonical user rows.
// It holds no state beyond its collaborators; the store's unique indexes on
// external_id and email are the only serialization points.
type Resolver struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewResolver constructs the identity resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the user matching the reference by external id or email,
// first match wins. It never creates; a miss is ErrUserNotFound.
func (r *Resolver) Resolve(ctx context.Context, ref IdentityRef) (User, error) {
	if ref.Empty() {
		return User{}, ErrMissingIdentity
	}
	return r.lookup(ctx, ref)
}

// ResolveOrCreate returns the matching user, inserting a new row on a true
// miss. Both identifying fields are required because the service never
// invents an email. A concurrent insert losing the race on either unique
// index falls back to re-reading the winning row, so both racers observe the
// same user id.
func (r *Resolver) ResolveOrCreate(ctx context.Context, ref IdentityRef) (User, error) {
	if ref.Empty() {
		return User{}, ErrMissingIdentity
	}
	if !ref.Complete() {
		return User{}, ErrIncompleteIdentity
	}

	user, err := r.lookup(ctx, ref)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user = User{
		ExternalID: ref.ExternalID,
		Email:      ref.Email,
		CreatedAt:  r.now().UTC(),
	}
	createErr := r.db.WithContext(ctx).Create(&user).Error
	if createErr == nil {
		r.logger.Info("user created",
			zap.Int64("user_id", user.ID),
			zap.String("external_id", user.ExternalID))
		return user, nil
	}
	if !isDuplicateKey(createErr) {
		return User{}, fmt.Errorf("%w: %v", ErrStore, createErr)
	}

	// Lost the race: another request inserted the same identity between the
	// miss and the create. The winning row is authoritative.
	existing, lookupErr := r.lookup(ctx, ref)
	if lookupErr != nil {
		return User{}, fmt.Errorf("%w: %v", ErrStore, createErr)
	}
	return existing, nil
}

func (r *Resolver) lookup(ctx context.Context, ref IdentityRef) (User, error) {
	query := r.db.WithContext(ctx)
	switch {
	case ref.ExternalID != "" && ref.Email != "":
		query = query.Where("external_id = ? OR email = ?", ref.ExternalID, ref.Email)
	case ref.ExternalID != "":
		query = query.Where("external_id = ?", ref.ExternalID)
	default:
		query = query.Where("email = ?", ref.Email)
	}

	var user User
	err := query.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrStore, err)
	}

	if ref.ExternalID != "" && user.ExternalID != ref.ExternalID {
		r.logger.Warn("identity matched by email with different external id",
			zap.Int64("user_id", user.ID),
			zap.String("supplied_external_id", ref.ExternalID))
	}

	return user, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
