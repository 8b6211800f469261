package memdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func copyUser(usr user.User) *user.User {
	if usr.Types != nil {
		usr.Types = append([]user.Type{}, usr.Types...)
	}
	if usr.PasswordHash != nil {
		usr.PasswordHash = append([]byte{}, usr.PasswordHash...)
	}
	return &usr
}

func getUser(txn *hcmemdb.Txn, id string) (*user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, user.ErrNotFound
	}
	raw, err := txn.First(userTable, PK, id)
	if err != nil {
		return nil, errors.Wrap(err, "finding user by ID")
	}
	if raw == nil {
		return nil, user.ErrNotFound
	}
	return raw.(*user.User), nil
}

func firstUser(txn *hcmemdb.Txn, index, val string) (*user.User, error) {
	if val == "" {
		return nil, nil
	}
	raw, err := txn.First(userTable, index, val)
	if err != nil {
		return nil, errors.Wrapf(err, "finding user by %s", index)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*user.User), nil
}

func isExcluded(usr *user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

func checkUniqueness(txn *hcmemdb.Txn, username, email, phone string, excludedUsers []user.User) error {
	checks := []struct {
		index, val string
		err        error
	}{
		{usernameIndex, username, user.ErrUsernameExists},
		{emailIndex, email, user.ErrEmailExists},
		{phoneIndex, phone, user.ErrPhoneExists},
	}
	for _, chk := range checks {
		usr, err := firstUser(txn, chk.index, chk.val)
		if err != nil {
			return err
		}
		if usr != nil && !isExcluded(usr, excludedUsers) {
			return chk.err
		}
	}
	return nil
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email, phone string, excludedUsers ...user.User) error {
	txn := repo.db.txn(false)
	defer txn.Abort()
	return checkUniqueness(txn, username, email, phone, excludedUsers)
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	if err := checkUniqueness(txn, usr.Username, usr.Email, usr.Phone, nil); err != nil {
		return user.User{}, err
	}
	usr.ID = uuid.New().String()
	usr.Types = user.NormalizeTypes(usr.Types)
	if err := txn.Insert(userTable, copyUser(usr)); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	txn.Commit()
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	it, err := txn.Get(userTable, PK)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		usr := raw.(*user.User)
		if filter == nil || matchUser(usr, filter) {
			users = append(users, *copyUser(*usr))
		}
	}
	sortUsers(users, ordering)
	return users, nil
}

func matchUser(usr *user.User, filter *user.QueryFilter) bool {
	// users with search keyword matching any of the names, Username or Email
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(usr.Username), search) ||
			strings.Contains(strings.ToLower(usr.Email), search) ||
			strings.Contains(strings.ToLower(usr.FirstName), search) ||
			strings.Contains(strings.ToLower(usr.LastName), search)) {
			return false
		}
	}
	// users with any of the specified types
	if len(filter.Types) > 0 {
		var found bool
		for _, t := range filter.Types {
			if usr.HasType(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom.UTC()) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo.UTC()) {
		return false
	}
	return true
}

// sortUsers orders users by the supported fields; default ordering is by username.
func sortUsers(users []user.User, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "username", Ascending: true}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "username":
				cmp = strings.Compare(users[i].Username, users[j].Username)
			case "email":
				cmp = strings.Compare(users[i].Email, users[j].Email)
			case "first_name":
				cmp = strings.Compare(users[i].FirstName, users[j].FirstName)
			case "last_name":
				cmp = strings.Compare(users[i].LastName, users[j].LastName)
			case "created_at":
				cmp = users[i].CreatedAt.Compare(users[j].CreatedAt)
			}
			if cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return false
	})
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	var usr *user.User
	var err error
	switch {
	case filter.ID != "":
		usr, err = getUser(txn, filter.ID)
	case filter.Username != "":
		usr, err = firstUser(txn, usernameIndex, filter.Username)
	case filter.Email != "":
		usr, err = firstUser(txn, emailIndex, filter.Email)
	case filter.UsernameOrEmail != "":
		if usr, err = firstUser(txn, usernameIndex, filter.UsernameOrEmail); err == nil && usr == nil {
			usr, err = firstUser(txn, emailIndex, filter.UsernameOrEmail)
		}
	}
	if err != nil {
		return user.User{}, err
	}
	if usr == nil {
		return user.User{}, user.ErrNotFound
	}
	return *copyUser(*usr), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, []user.Type, error) {
	// write txns are exclusive: reading the previous types here is as good as a row lock
	txn := repo.db.txn(true)
	defer txn.Abort()

	orig, err := getUser(txn, usr.ID)
	if err != nil {
		return user.User{}, nil, err
	}
	if err = checkUniqueness(txn, usr.Username, usr.Email, usr.Phone, []user.User{usr}); err != nil {
		return user.User{}, nil, err
	}
	prevTypes := append([]user.Type{}, orig.Types...)

	usr.CreatedAt = orig.CreatedAt
	usr.Types = user.NormalizeTypes(usr.Types)
	if usr.PasswordHash == nil {
		usr.PasswordHash = orig.PasswordHash
	}
	if err = txn.Insert(userTable, copyUser(usr)); err != nil {
		return user.User{}, nil, errors.Wrap(err, "updating user")
	}
	txn.Commit()
	return usr, prevTypes, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	var cnt int
	for _, id := range ids {
		usr, err := getUser(txn, id)
		if err == user.ErrNotFound {
			continue
		} else if err != nil {
			return 0, err
		}
		if err = deleteUserCascade(txn, usr); err != nil {
			return 0, err
		}
		cnt++
	}
	txn.Commit()
	return cnt, nil
}

// deleteUserCascade deletes a user with its profile, extensions, payment status, memberships and owned institutes.
func deleteUserCascade(txn *hcmemdb.Txn, usr *user.User) error {
	for _, table := range []string{profileTable, extensionTable, groupMemberTable} {
		if err := deleteAll(txn, table, userIDIndex, usr.ID); err != nil {
			return err
		}
	}
	if err := deleteAll(txn, paymentStatusTable, PK, usr.ID); err != nil {
		return err
	}

	it, err := txn.Get(instituteTable, ownerIDIndex, usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying owned institutes")
	}
	var owned []*institute.Institute
	for raw := it.Next(); raw != nil; raw = it.Next() {
		owned = append(owned, raw.(*institute.Institute))
	}
	for _, inst := range owned {
		if err = deleteInstituteCascade(txn, inst); err != nil {
			return err
		}
	}
	return errors.Wrap(txn.Delete(userTable, usr), "deleting user")
}
