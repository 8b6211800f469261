package institute

import (
	"context"
	"fmt"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

var (
	// errors
	ErrNotFound        = errors.New("institute not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupExists     = errors.New("a group with this name already exists")
	ErrPaymentNotFound = errors.New("payment status not found")
	ErrPaymentRequired = errors.New("you don't have permissions, pay first")
)

// groupTypes maps each group to the user type its members are created with.
var groupTypes = map[GroupKind]user.Type{
	GroupStudents:   user.TypeStudent,
	GroupTeachers:   user.TypeTeacher,
	GroupController: user.TypeController,
	GroupEmployees:  user.TypeEmployee,
	GroupGuardians:  user.TypeGuardian,
}

// UserType returns the user type implied by membership of a `k` group.
func (k GroupKind) UserType() user.Type {
	return groupTypes[k]
}

type (
	Repository interface {
		CreateInstitute(ctx context.Context, inst Institute) (Institute, error)
		GetInstitute(ctx context.Context, id string) (Institute, error)
		// QueryInstitutes applies AND operation on the set QueryFilter fields.
		QueryInstitutes(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Institute, error)
		UpdateInstitute(ctx context.Context, inst Institute) (Institute, error)
		DeleteInstitutesByID(ctx context.Context, ids []string) (int, error)

		// CreateGroup fails with ErrGroupExists on a duplicate name.
		CreateGroup(ctx context.Context, grp Group) (Group, error)
		GetGroup(ctx context.Context, id string) (Group, error)
		// QueryGroups returns the groups of an institute ordered by name.
		QueryGroups(ctx context.Context, instituteID string) ([]Group, error)
		SaveGroup(ctx context.Context, grp Group) error
		// AddGroupMember is a no-op if the user already is a member.
		AddGroupMember(ctx context.Context, groupID, userID string) error
		QueryGroupMembers(ctx context.Context, groupID string) ([]string, error)

		// GetPaymentStatus fails with ErrPaymentNotFound.
		GetPaymentStatus(ctx context.Context, userID string) (PaymentStatus, error)
		SavePaymentStatus(ctx context.Context, ps PaymentStatus) (PaymentStatus, error)
	}

	// UserService is the part of user.Service institutes depend on.
	UserService interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		GetByUsername(ctx context.Context, uname string) (user.User, error)
		Create(ctx context.Context, nu user.NewUser, proxy ...user.Type) (user.User, error)
	}

	Service struct {
		repo   Repository
		usrSvc UserService
		logger core.Logger
	}
)

func NewService(repo Repository, usrSvc UserService, logger core.Logger) (*Service, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(usrSvc, "usrSvc"),
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}
	return &Service{repo: repo, usrSvc: usrSvc, logger: logger}, nil
}

// HasActivePayment reports whether `userID` may create institutes. A missing payment status counts as unpaid.
func (svc *Service) HasActivePayment(ctx context.Context, userID string) (bool, error) {
	ps, err := svc.repo.GetPaymentStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return false, nil
		}
		return false, err
	}
	return ps.Status, nil
}

// Create stores a new institute owned by `owner`, creates its groups and makes the owner a controller.
// Fails with ErrPaymentRequired unless the owner has an active payment status.
func (svc *Service) Create(ctx context.Context, owner user.User, ni NewInstitute) (Institute, error) {
	paid, err := svc.HasActivePayment(ctx, owner.ID)
	if err != nil {
		return Institute{}, err
	}
	if !paid {
		return Institute{}, ErrPaymentRequired
	}
	if err = ni.Validate(); err != nil {
		return Institute{}, err
	}

	now := time.Now().UTC()
	inst, err := svc.repo.CreateInstitute(ctx, Institute{
		OwnerID:         owner.ID,
		EIIN:            ni.EIIN,
		Name:            ni.Name,
		Address:         ni.Address,
		Category:        ni.Category,
		ContactPhones:   ni.ContactPhones,
		ContactEmails:   ni.ContactEmails,
		ContactOthers:   ni.ContactOthers,
		Description:     ni.Description,
		EstablishedDate: ni.EstablishedDate.UTC(),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return Institute{}, err
	}

	groups, err := svc.syncGroups(ctx, inst)
	if err != nil {
		return Institute{}, err
	}
	if err = svc.repo.AddGroupMember(ctx, groups[GroupController].ID, owner.ID); err != nil {
		return Institute{}, errors.Wrap(err, "adding owner to controller group")
	}

	svc.logger.Info(fmt.Sprintf("institute %q created", inst.Name), map[string]interface{}{"institute_id": inst.ID}, owner)
	return inst, nil
}

// Update applies `ui` to the institute `id`; a rename renames its groups too.
func (svc *Service) Update(ctx context.Context, id string, ui UpdateInstitute) (Institute, error) {
	inst, err := svc.repo.GetInstitute(ctx, id)
	if err != nil {
		return Institute{}, err
	}
	if err = ui.Validate(); err != nil {
		return Institute{}, err
	}

	origName := inst.Name
	ui.apply(&inst)
	inst.UpdatedAt = time.Now().UTC()
	if inst, err = svc.repo.UpdateInstitute(ctx, inst); err != nil {
		return Institute{}, err
	}

	if _, err = svc.syncGroups(ctx, inst); err != nil {
		return Institute{}, err
	}
	if inst.Name != origName {
		svc.logger.Info(
			fmt.Sprintf("institute %q renamed to %q", origName, inst.Name),
			map[string]interface{}{"institute_id": inst.ID},
		)
	}
	return inst, nil
}

// syncGroups creates the missing groups of `inst` and renames the ones not matching its current name.
func (svc *Service) syncGroups(ctx context.Context, inst Institute) (map[GroupKind]Group, error) {
	existing, err := svc.repo.QueryGroups(ctx, inst.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying institute groups")
	}
	groups := make(map[GroupKind]Group, len(GroupKinds))
	for _, grp := range existing {
		groups[grp.Kind] = grp
	}

	for _, kind := range GroupKinds {
		name := GroupName(inst.Name, inst.ID, kind)
		grp, ok := groups[kind]
		switch {
		case !ok:
			if grp, err = svc.repo.CreateGroup(ctx, Group{InstituteID: inst.ID, Kind: kind, Name: name}); err != nil {
				return nil, errors.Wrapf(err, "creating %s group", kind)
			}
		case grp.Name != name:
			grp.Name = name
			if err = svc.repo.SaveGroup(ctx, grp); err != nil {
				return nil, errors.Wrapf(err, "renaming %s group", kind)
			}
		}
		groups[kind] = grp
	}
	return groups, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Institute, error) {
	return svc.repo.GetInstitute(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]Institute, error) {
	filter.Search = core.CleanString(filter.Search)
	return svc.repo.QueryInstitutes(ctx, filter, ordering)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) (int, error) {
	return svc.repo.DeleteInstitutesByID(ctx, ids)
}

// Dashboard returns the payment state of `owner` and the institutes they own.
func (svc *Service) Dashboard(ctx context.Context, owner user.User) (Dashboard, error) {
	paid, err := svc.HasActivePayment(ctx, owner.ID)
	if err != nil {
		return Dashboard{}, err
	}
	insts, err := svc.repo.QueryInstitutes(ctx, QueryFilter{OwnerID: owner.ID}, []core.DBOrdering{{Field: "name", Ascending: true}})
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{PaymentActive: paid, Institutes: insts}, nil
}

// Groups returns the groups of the institute `id` ordered by name.
func (svc *Service) Groups(ctx context.Context, id string) ([]Group, error) {
	if _, err := svc.repo.GetInstitute(ctx, id); err != nil {
		return nil, err
	}
	return svc.repo.QueryGroups(ctx, id)
}

func (svc *Service) GroupMembers(ctx context.Context, groupID string) ([]user.User, error) {
	ids, err := svc.repo.QueryGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]user.User, 0, len(ids))
	for _, id := range ids {
		usr, err := svc.usrSvc.GetByID(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "getting member %s", id)
		}
		members = append(members, usr)
	}
	return members, nil
}

// AddUserToGroup adds the existing user `username` to the group `groupID`.
func (svc *Service) AddUserToGroup(ctx context.Context, groupID, username string) (user.User, error) {
	grp, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.usrSvc.GetByUsername(ctx, username)
	if err != nil {
		return user.User{}, err
	}
	if err = svc.repo.AddGroupMember(ctx, grp.ID, usr.ID); err != nil {
		return user.User{}, err
	}
	return usr, nil
}

// CreateUserInGroup creates a user holding the type of the group `groupID` and adds it to that group.
func (svc *Service) CreateUserInGroup(ctx context.Context, groupID string, nu user.NewUser) (user.User, error) {
	grp, err := svc.repo.GetGroup(ctx, groupID)
	if err != nil {
		return user.User{}, err
	}
	usr, err := svc.usrSvc.Create(ctx, nu, grp.Kind.UserType())
	if err != nil {
		return user.User{}, err
	}
	if err = svc.repo.AddGroupMember(ctx, grp.ID, usr.ID); err != nil {
		return usr, errors.Wrap(err, "adding user to group")
	}
	return usr, nil
}

func (svc *Service) PaymentStatus(ctx context.Context, userID string) (PaymentStatus, error) {
	return svc.repo.GetPaymentStatus(ctx, userID)
}

// SetPaymentStatus records a payment of `userID`, creating its payment status on the first one.
func (svc *Service) SetPaymentStatus(ctx context.Context, userID string, up UpdatePayment) (PaymentStatus, error) {
	if err := core.ValidateStruct(up); err != nil {
		return PaymentStatus{}, err
	}
	if _, err := svc.usrSvc.GetByID(ctx, userID); err != nil {
		return PaymentStatus{}, err
	}

	now := time.Now().UTC()
	ps, err := svc.repo.GetPaymentStatus(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			return PaymentStatus{}, err
		}
		ps = PaymentStatus{UserID: userID, CreatedAt: now}
	}
	ps.Amount = up.Amount
	ps.DurationMonth = up.DurationMonth
	ps.Status = up.Status
	ps.Count++
	ps.UpdatedAt = now
	return svc.repo.SavePaymentStatus(ctx, ps)
}
