package user

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core"
)

var (
	ErrProfileExists     = errors.New("profile already exists")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrExtensionExists   = errors.New("extension already exists")
	ErrExtensionNotFound = errors.New("extension not found")
)

// Gateway is the storage the Reconciler writes profiles and extensions through.
type Gateway interface {
	// CreateProfile fails with ErrProfileExists if the user already has one.
	CreateProfile(ctx context.Context, usr User) (Profile, error)
	// CreateExtension fails with ErrExtensionExists on a duplicate (user, type).
	CreateExtension(ctx context.Context, t Type, usr User, isActive bool) (Extension, error)
	// UpsertExtension creates the (user, type) extension if absent, else updates its active flag in place.
	UpsertExtension(ctx context.Context, t Type, usr User, isActive bool) (Extension, error)
	// GetExtension fails with ErrExtensionNotFound.
	GetExtension(ctx context.Context, t Type, usr User) (Extension, error)
	SaveExtension(ctx context.Context, ext Extension) error
}

// Reconciler keeps the extensions of a User in line with its types.
// Every (user, type) operation is independent: a failure is logged, collected and never stops the others.
type Reconciler struct {
	gw     Gateway
	logger core.Logger
}

func NewReconciler(gw Gateway, logger core.Logger) (*Reconciler, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(gw, "gw"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}
	return &Reconciler{gw: gw, logger: logger}, nil
}

type typeOp func(ctx context.Context, t Type, usr User) error

// OnUserCreated creates the profile of a freshly created user and one active extension per type it holds.
// The returned error only reports what failed; nothing is rolled back.
func (r *Reconciler) OnUserCreated(ctx context.Context, usr User) error {
	var result *multierror.Error
	if _, err := r.gw.CreateProfile(ctx, usr); err != nil {
		result = multierror.Append(result, r.fail("creating profile", err, usr))
	}
	result = multierror.Append(result, r.apply(ctx, usr, usr.Types, "creating extension", r.create))
	return result.ErrorOrNil()
}

// OnUserTypesChanged activates the extensions of the added types and deactivates the ones of the removed types.
// Types present in both sets are not touched.
func (r *Reconciler) OnUserTypesChanged(ctx context.Context, usr User, prev, curr []Type) error {
	added, removed := DiffTypes(prev, curr)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, r.apply(ctx, usr, added, "activating extension", r.activate))
	result = multierror.Append(result, r.apply(ctx, usr, removed, "deactivating extension", r.deactivate))
	return result.ErrorOrNil()
}

func (r *Reconciler) apply(ctx context.Context, usr User, types []Type, action string, op typeOp) error {
	var result *multierror.Error
	for _, t := range types {
		if err := op(ctx, t, usr); err != nil {
			result = multierror.Append(result, r.failType(action, err, usr, t))
		}
	}
	return result.ErrorOrNil()
}

func (r *Reconciler) create(ctx context.Context, t Type, usr User) error {
	_, err := r.gw.CreateExtension(ctx, t, usr, true)
	return err
}

func (r *Reconciler) activate(ctx context.Context, t Type, usr User) error {
	_, err := r.gw.UpsertExtension(ctx, t, usr, true)
	return err
}

func (r *Reconciler) deactivate(ctx context.Context, t Type, usr User) error {
	ext, err := r.gw.GetExtension(ctx, t, usr)
	if err != nil {
		if errors.Is(err, ErrExtensionNotFound) {
			r.logger.Debug(
				fmt.Sprintf("deactivating extension: no %s extension for user %s", t, usr.ID),
				map[string]interface{}{"user_id": usr.ID, "type": t.Slug()},
			)
			return nil
		}
		return err
	}
	ext.IsActive = false
	return r.gw.SaveExtension(ctx, ext)
}

func (r *Reconciler) fail(action string, err error, usr User) error {
	err = errors.Wrap(err, action)
	r.logger.Error(err.Error(), err, map[string]interface{}{"user_id": usr.ID}, usr)
	return err
}

func (r *Reconciler) failType(action string, err error, usr User, t Type) error {
	err = errors.Wrapf(err, "%s %s", action, t)
	r.logger.Error(err.Error(), err, map[string]interface{}{"user_id": usr.ID, "type": t.Slug()}, usr)
	return err
}
