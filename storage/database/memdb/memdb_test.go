package memdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
)

type repos struct {
	users *userRepository
	store *accountStore
	insts *instituteRepository
}

func setup(t *testing.T) repos {
	db, err := Open()
	require.NoError(t, err)
	return repos{users: NewUserRepository(db), store: NewAccountStore(db), insts: NewInstituteRepository(db)}
}

func (r repos) createUser(t *testing.T, uname, email, phone string, types ...user.Type) user.User {
	t.Helper()
	usr, err := r.users.CreateUser(context.Background(), user.User{
		Username:  uname,
		Email:     email,
		Phone:     phone,
		Types:     types,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return usr
}

func TestUserRepository_Uniqueness(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	alice := r.createUser(t, "alice", "alice@test.cd", "+243800000001")
	r.createUser(t, "noemail", "", "")

	tests := []struct {
		name                   string
		username, email, phone string
		excluded               []user.User
		wantErr                error
	}{
		{name: "free", username: "bob", email: "bob@test.cd", phone: "+243800000002"},
		{name: "username", username: "alice", email: "bob@test.cd", wantErr: user.ErrUsernameExists},
		{name: "email", username: "bob", email: "alice@test.cd", wantErr: user.ErrEmailExists},
		{name: "phone", username: "bob", phone: "+243800000001", wantErr: user.ErrPhoneExists},
		{name: "username first", username: "alice", email: "alice@test.cd", wantErr: user.ErrUsernameExists},
		{name: "empty email is not a duplicate", username: "carl"},
		{name: "excluded", username: "alice", email: "alice@test.cd", excluded: []user.User{alice}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := r.users.CheckUniqueness(ctx, tt.username, tt.email, tt.phone, tt.excluded...)
			assert.Equal(t, tt.wantErr, err)
		})
	}

	_, err := r.users.CreateUser(ctx, user.User{Username: "alice"})
	assert.Equal(t, user.ErrUsernameExists, err)
}

func TestUserRepository_UpdateUser(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	usr := r.createUser(t, "alice", "alice@test.cd", "", user.TypeStudent, user.TypeTeacher)
	require.NoError(t, usr.SetPassword("secret"))
	bob := r.createUser(t, "bob", "bob@test.cd", "")

	usr.Types = []user.Type{user.TypeGuardian, user.TypeStudent, user.TypeGuardian}
	usr.PasswordHash = nil
	updated, prev, err := r.users.UpdateUser(ctx, usr)
	require.NoError(t, err)
	assert.Equal(t, []user.Type{user.TypeTeacher, user.TypeStudent}, prev)
	assert.Equal(t, []user.Type{user.TypeStudent, user.TypeGuardian}, updated.Types)

	_, prev, err = r.users.UpdateUser(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, []user.Type{user.TypeStudent, user.TypeGuardian}, prev)

	updated.Email = bob.Email
	_, _, err = r.users.UpdateUser(ctx, updated)
	assert.Equal(t, user.ErrEmailExists, err)

	_, _, err = r.users.UpdateUser(ctx, user.User{ID: "lol"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestAccountStore_Extensions(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	usr := r.createUser(t, "alice", "", "")

	ext, err := r.store.CreateExtension(ctx, user.TypeTeacher, usr, true)
	require.NoError(t, err)
	_, err = r.store.CreateExtension(ctx, user.TypeTeacher, usr, true)
	assert.Equal(t, user.ErrExtensionExists, err)
	_, err = r.store.CreateExtension(ctx, user.TypeTeacher, user.User{ID: "3f7d6c9e-0d5b-4c1b-9a57-8d7e0b7f1a11"}, true)
	assert.Error(t, err, "unknown user")

	off, err := r.store.UpsertExtension(ctx, user.TypeTeacher, usr, false)
	require.NoError(t, err)
	assert.Equal(t, ext.ID, off.ID)
	assert.False(t, off.IsActive)

	on, err := r.store.UpsertExtension(ctx, user.TypeTeacher, usr, true)
	require.NoError(t, err)
	assert.Equal(t, ext.ID, on.ID)
	assert.True(t, on.IsActive)

	guardian, err := r.store.UpsertExtension(ctx, user.TypeGuardian, usr, true)
	require.NoError(t, err)
	assert.NotEqual(t, ext.ID, guardian.ID)

	guardian.IsActive = false
	guardian.Details = user.Details{Occupation: "Farmer"}
	require.NoError(t, r.store.SaveExtension(ctx, guardian))
	got, err := r.store.GetExtension(ctx, user.TypeGuardian, usr)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Farmer", got.Details.Occupation)
	assert.Equal(t, guardian.CreatedAt, got.CreatedAt)

	_, err = r.store.GetExtension(ctx, user.TypeStudent, usr)
	assert.Equal(t, user.ErrExtensionNotFound, err)

	active := true
	exts, err := r.store.QueryExtensions(ctx, user.ExtensionFilter{UserID: usr.ID, IsActive: &active})
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, user.TypeTeacher, exts[0].Type)

	exts, err = r.store.QueryExtensions(ctx, user.ExtensionFilter{Types: []user.Type{user.TypeGuardian}})
	require.NoError(t, err)
	require.Len(t, exts, 1)
	assert.Equal(t, guardian.ID, exts[0].ID)
}

func TestAccountStore_Profile(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	usr := r.createUser(t, "alice", "", "")

	_, err := r.store.GetProfile(ctx, usr)
	assert.Equal(t, user.ErrProfileNotFound, err)

	p, err := r.store.CreateProfile(ctx, usr)
	require.NoError(t, err)
	_, err = r.store.CreateProfile(ctx, usr)
	assert.Equal(t, user.ErrProfileExists, err)

	p.PresentAddress = &user.Address{City: "Dhaka"}
	p.ContactPhones = []string{"+8801700000000"}
	require.NoError(t, r.store.SaveProfile(ctx, p))

	// stored values are copies
	p.PresentAddress.City = "Khulna"
	got, err := r.store.GetProfile(ctx, usr)
	require.NoError(t, err)
	assert.Equal(t, "Dhaka", got.PresentAddress.City)
	assert.Equal(t, []string{"+8801700000000"}, got.ContactPhones)
}

func TestDeleteCascade(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	owner := r.createUser(t, "owner", "", "", user.TypeController)
	member := r.createUser(t, "member", "", "", user.TypeStudent)

	_, err := r.store.CreateProfile(ctx, owner)
	require.NoError(t, err)
	_, err = r.store.CreateExtension(ctx, user.TypeController, owner, true)
	require.NoError(t, err)
	_, err = r.insts.SavePaymentStatus(ctx, institute.PaymentStatus{UserID: owner.ID, Status: true, Count: 1})
	require.NoError(t, err)

	inst, err := r.insts.CreateInstitute(ctx, institute.Institute{OwnerID: owner.ID, Name: "Sunrise"})
	require.NoError(t, err)
	grp, err := r.insts.CreateGroup(ctx, institute.Group{InstituteID: inst.ID, Kind: institute.GroupStudents, Name: "Sunrise_x_students"})
	require.NoError(t, err)
	_, err = r.insts.CreateGroup(ctx, institute.Group{InstituteID: inst.ID, Kind: institute.GroupTeachers, Name: "Sunrise_x_students"})
	assert.Equal(t, institute.ErrGroupExists, err)

	require.NoError(t, r.insts.AddGroupMember(ctx, grp.ID, member.ID))
	require.NoError(t, r.insts.AddGroupMember(ctx, grp.ID, member.ID))
	require.NoError(t, r.insts.AddGroupMember(ctx, grp.ID, owner.ID))
	ids, err := r.insts.QueryGroupMembers(ctx, grp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{member.ID, owner.ID}, ids)

	// deleting a member only removes their membership
	n, err := r.users.DeleteUsersByID(ctx, []string{member.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ids, err = r.insts.QueryGroupMembers(ctx, grp.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{owner.ID}, ids)

	// deleting the owner removes everything they own
	n, err = r.users.DeleteUsersByID(ctx, []string{owner.ID, "lol"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.store.GetProfile(ctx, owner)
	assert.Equal(t, user.ErrProfileNotFound, err)
	exts, err := r.store.QueryExtensions(ctx, user.ExtensionFilter{UserID: owner.ID})
	require.NoError(t, err)
	assert.Empty(t, exts)
	_, err = r.insts.GetPaymentStatus(ctx, owner.ID)
	assert.Equal(t, institute.ErrPaymentNotFound, err)
	_, err = r.insts.GetInstitute(ctx, inst.ID)
	assert.Equal(t, institute.ErrNotFound, err)
	_, err = r.insts.GetGroup(ctx, grp.ID)
	assert.Equal(t, institute.ErrGroupNotFound, err)
}
