package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrPhoneExists    = errors.New("a user with this phone already exists")
	ErrNoEmail        = errors.New("user has no email address")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists, ErrEmailExists or ErrPhoneExists. Empty email/phone are ignored.
		CheckUniqueness(ctx context.Context, username, email, phone string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on the set QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of the names, Username or Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, filter GetFilter) (User, error)
		// UpdateUser saves `usr` and returns the types it held right before the write.
		// The read of the previous types and the write are done under the same row lock.
		UpdateUser(ctx context.Context, usr User) (User, []Type, error)
		// DeleteUsersByID deletes users along with everything they own.
		DeleteUsersByID(ctx context.Context, ids []string) (int, error)
	}

	// Store is the profile/extension storage exposed to the services, on top of the Gateway.
	Store interface {
		Gateway

		GetProfile(ctx context.Context, usr User) (Profile, error)
		SaveProfile(ctx context.Context, p Profile) error
		QueryExtensions(ctx context.Context, filter ExtensionFilter) ([]Extension, error)
	}

	Service struct {
		repo    Repository
		store   Store
		recon   *Reconciler
		mailSvc core.EmailService
		logger  core.Logger
	}
)

func NewService(repo Repository, store Store, mailSvc core.EmailService, logger core.Logger) (*Service, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(store, "store"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}
	recon, err := NewReconciler(store, logger)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:    repo,
		store:   store,
		recon:   recon,
		mailSvc: mailSvc,
		logger:  logger,
	}, nil
}

func (svc *Service) checkUniqueness(ctx context.Context, uname, email, phone string, exclUsers ...User) error {
	if err := svc.repo.CheckUniqueness(ctx, uname, email, phone, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		case ErrPhoneExists:
			field = "phone"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create validates `nu` and stores the new user. `proxy` is the implicit type of a role-specific creation context.
// Profile and extensions are created afterwards on a best-effort basis; their failures are only logged.
func (svc *Service) Create(ctx context.Context, nu NewUser, proxy ...Type) (User, error) {
	if err := nu.Validate(ctx, svc); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		Username:  nu.Username,
		Email:     nu.Email,
		Phone:     nu.Phone,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Sex:       nu.Sex,
		Types:     NormalizeTypes(nu.Types, proxy...),
		IsStaff:   nu.IsStaff,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, err
	}

	if err := svc.recon.OnUserCreated(ctx, usr); err != nil {
		svc.logger.Warn(fmt.Sprintf("user %s created with reconciliation errors", usr.Username), err, usr)
	}
	return usr, nil
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	if filter != nil {
		if filter.Clean(); filter.IsEmpty() {
			filter = nil
		}
	}
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Username: core.CleanString(uname, true /* lower */)})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

func (svc *Service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUser(ctx, GetFilter{UsernameOrEmail: core.CleanString(uname, true /* lower */)})
}

// Update applies `uu` to the user `id`. A change of types is reconciled after the write.
func (svc *Service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = uu.Validate(ctx, usr, svc); err != nil {
		return User{}, err
	}

	uu.apply(&usr)
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.save(ctx, usr)
}

// SetTypes replaces the types of the user `id`.
func (svc *Service) SetTypes(ctx context.Context, id string, types []Type) (User, error) {
	if err := ValidateTypes(types); err != nil {
		return User{}, err
	}
	return svc.Update(ctx, id, UpdateUser{Types: &types})
}

// ResetPassword sets a new password, without applying the password policy.
func (svc *Service) ResetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	_, err = svc.save(ctx, usr)
	return err
}

func (svc *Service) save(ctx context.Context, usr User) (User, error) {
	usr.UpdatedAt = time.Now().UTC()
	saved, prevTypes, err := svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, err
	}
	if err = svc.recon.OnUserTypesChanged(ctx, saved, prevTypes, saved.Types); err != nil {
		svc.logger.Warn(fmt.Sprintf("user %s updated with reconciliation errors", saved.Username), err, saved)
	}
	return saved, nil
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteUsersByID(ctx, ids)
}

// EmailUser sends an email to the user `id`.
func (svc *Service) EmailUser(ctx context.Context, id, subject, message string) error {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if usr.Email == "" {
		return ErrNoEmail
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: usr.FullName(), Address: usr.Email}},
		Subject: subject,
		Body:    message,
	})
	return nil
}

// Extensions returns every extension of the user `id`, active or not.
func (svc *Service) Extensions(ctx context.Context, id string) ([]Extension, error) {
	return svc.store.QueryExtensions(ctx, ExtensionFilter{UserID: id})
}

// Extension returns the extension of type `t` of the user `id`.
func (svc *Service) Extension(ctx context.Context, id string, t Type) (Extension, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return Extension{}, err
	}
	return svc.store.GetExtension(ctx, t, usr)
}

// UpdateExtensionDetails replaces the role specific attributes of the (user, type) extension.
// Attributes not belonging to `t` are discarded.
func (svc *Service) UpdateExtensionDetails(ctx context.Context, id string, t Type, details Details) (Extension, error) {
	ext, err := svc.Extension(ctx, id, t)
	if err != nil {
		return Extension{}, err
	}
	details = details.ForType(t)
	if err = core.ValidateStruct(details); err != nil {
		return Extension{}, err
	}
	ext.Details = details
	if err = svc.store.SaveExtension(ctx, ext); err != nil {
		return Extension{}, err
	}
	return ext, nil
}

func (svc *Service) Profile(ctx context.Context, id string) (Profile, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return svc.store.GetProfile(ctx, usr)
}

func (svc *Service) UpdateProfile(ctx context.Context, id string, up UpdateProfile) (Profile, error) {
	if err := core.ValidateStruct(up); err != nil {
		return Profile{}, err
	}
	p, err := svc.Profile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	up.apply(&p)
	if err = svc.store.SaveProfile(ctx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
