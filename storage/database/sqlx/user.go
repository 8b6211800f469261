package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

const userTable = `"user"`

var userColumns = []string{
	"id", "username", "email", "phone", "first_name", "last_name", "sex", "types", "is_staff", "is_active",
	"is_phone_verified", "is_email_verified", "is_account_verified", "password_hash",
	"created_at", "updated_at", "last_login",
}

var userOrderColumns = map[string]string{
	"username":   "username",
	"email":      "email",
	"first_name": "first_name",
	"last_name":  "last_name",
	"created_at": "created_at",
}

type userRow struct {
	ID                string        `db:"id"`
	Username          string        `db:"username"`
	Email             null.String   `db:"email"`
	Phone             null.String   `db:"phone"`
	FirstName         string        `db:"first_name"`
	LastName          string        `db:"last_name"`
	Sex               string        `db:"sex"`
	Types             pq.Int64Array `db:"types"`
	IsStaff           bool          `db:"is_staff"`
	IsActive          bool          `db:"is_active"`
	IsPhoneVerified   bool          `db:"is_phone_verified"`
	IsEmailVerified   bool          `db:"is_email_verified"`
	IsAccountVerified bool          `db:"is_account_verified"`
	PasswordHash      null.Bytes    `db:"password_hash"`
	CreatedAt         null.Time     `db:"created_at"`
	UpdatedAt         null.Time     `db:"updated_at"`
	LastLogin         null.Time     `db:"last_login"`
}

func typesToArray(types []user.Type) pq.Int64Array {
	arr := make(pq.Int64Array, 0, len(types))
	for _, t := range types {
		arr = append(arr, int64(t))
	}
	return arr
}

func typesFromArray(arr pq.Int64Array) []user.Type {
	types := make([]user.Type, 0, len(arr))
	for _, t := range arr {
		types = append(types, user.Type(t))
	}
	return user.NormalizeTypes(types)
}

func toUserRow(usr user.User) userRow {
	return userRow{
		ID:                usr.ID,
		Username:          usr.Username,
		Email:             null.NewString(usr.Email, usr.Email != ""),
		Phone:             null.NewString(usr.Phone, usr.Phone != ""),
		FirstName:         usr.FirstName,
		LastName:          usr.LastName,
		Sex:               usr.Sex,
		Types:             typesToArray(user.NormalizeTypes(usr.Types)),
		IsStaff:           usr.IsStaff,
		IsActive:          usr.IsActive,
		IsPhoneVerified:   usr.IsPhoneVerified,
		IsEmailVerified:   usr.IsEmailVerified,
		IsAccountVerified: usr.IsAccountVerified,
		PasswordHash:      null.BytesFrom(usr.PasswordHash),
		CreatedAt:         null.NewTime(usr.CreatedAt.UTC(), !usr.CreatedAt.IsZero()),
		UpdatedAt:         null.NewTime(usr.UpdatedAt.UTC(), !usr.UpdatedAt.IsZero()),
		LastLogin:         null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:                r.ID,
		Username:          r.Username,
		Email:             r.Email.String,
		Phone:             r.Phone.String,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		Sex:               r.Sex,
		Types:             typesFromArray(r.Types),
		IsStaff:           r.IsStaff,
		IsActive:          r.IsActive,
		IsPhoneVerified:   r.IsPhoneVerified,
		IsEmailVerified:   r.IsEmailVerified,
		IsAccountVerified: r.IsAccountVerified,
		PasswordHash:      r.PasswordHash.Bytes,
		CreatedAt:         r.CreatedAt.Time.UTC(),
		UpdatedAt:         r.UpdatedAt.Time.UTC(),
		LastLogin:         r.LastLogin.Time.UTC(),
	}
}

func (r userRow) values() []interface{} {
	return []interface{}{
		r.ID, r.Username, r.Email, r.Phone, r.FirstName, r.LastName, r.Sex, r.Types, r.IsStaff, r.IsActive,
		r.IsPhoneVerified, r.IsEmailVerified, r.IsAccountVerified, r.PasswordHash,
		r.CreatedAt, r.UpdatedAt, r.LastLogin,
	}
}

type userRepository struct {
	db core.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db core.DB) *userRepository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps the unique constraints of the user table to the matching user errors.
func trapUniqueErr(err error, msg string) error {
	switch {
	case isUniqueViolation(err, "user_username_key"):
		return user.ErrUsernameExists
	case isUniqueViolation(err, "user_email_key"):
		return user.ErrEmailExists
	case isUniqueViolation(err, "user_phone_key"):
		return user.ErrPhoneExists
	}
	return errors.Wrap(err, msg)
}

func checkUniqueness(ctx context.Context, exec core.DBExecutor, username, email, phone string, excludedUsers []user.User) error {
	or := sq.Or{sq.Expr("lower(username) = lower(?)", username)}
	if email != "" {
		or = append(or, sq.Expr("lower(email) = lower(?)", email))
	}
	if phone != "" {
		or = append(or, sq.Eq{"phone": phone})
	}
	qb := psql.Select("username", "email", "phone").From(userTable).Where(or)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		if ids = validIDs(ids); len(ids) > 0 {
			qb = qb.Where(sq.NotEq{"id": ids})
		}
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}

	var rows []userRow
	if err = exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	var emailTaken, phoneTaken bool
	for _, r := range rows {
		if strings.EqualFold(r.Username, username) {
			return user.ErrUsernameExists
		}
		emailTaken = emailTaken || (email != "" && strings.EqualFold(r.Email.String, email))
		phoneTaken = phoneTaken || (phone != "" && r.Phone.String == phone)
	}
	switch {
	case emailTaken:
		return user.ErrEmailExists
	case phoneTaken:
		return user.ErrPhoneExists
	}
	return nil
}

func (repo *userRepository) CheckUniqueness(ctx context.Context, username, email, phone string, excludedUsers ...user.User) error {
	return checkUniqueness(ctx, repo.db, username, email, phone, excludedUsers)
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := toUserRow(usr)
	query, args, err := psql.Insert(userTable).Columns(userColumns...).Values(row.values()...).ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building insert query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return user.User{}, trapUniqueErr(err, "inserting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	qb := psql.Select(userColumns...).From(userTable)

	if filter != nil {
		// users with search keyword matching any of the names, Username or Email
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"username": val},
				sq.ILike{"email": val},
				sq.ILike{"first_name": val},
				sq.ILike{"last_name": val},
			})
		}
		// users with any of the specified types
		if len(filter.Types) > 0 {
			qb = qb.Where("types && ?::smallint[]", typesToArray(filter.Types))
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	qb = qb.OrderBy(orderBy(ordering, userOrderColumns, "username ASC")...)

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building users query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter) (user.User, error) {
	qb := psql.Select(userColumns...).From(userTable)
	switch {
	case filter.ID != "":
		if !isValidID(filter.ID) {
			return user.User{}, user.ErrNotFound
		}
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		qb = qb.Where("lower(username) = lower(?)", filter.Username)
	case filter.Email != "":
		qb = qb.Where("lower(email) = lower(?)", filter.Email)
	case filter.UsernameOrEmail != "":
		// a username match wins over an email match
		qb = qb.Where("lower(username) = lower(?) OR lower(email) = lower(?)", filter.UsernameOrEmail, filter.UsernameOrEmail).
			OrderByClause("lower(username) = lower(?) DESC", filter.UsernameOrEmail).
			Limit(1)
	default:
		return user.User{}, user.ErrNotFound
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return user.User{}, errors.Wrap(err, "building user query")
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, trapNoRowsErr(err, "getting user")
	}
	return row.toUser(), nil
}

func lockUserQuery(id string) (string, []interface{}, error) {
	return psql.Select(userColumns...).From(userTable).Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
}

// UpdateUser locks the user row so that concurrent updates see each other's types.
func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, []user.Type, error) {
	if !isValidID(usr.ID) {
		return user.User{}, nil, user.ErrNotFound
	}
	var prevTypes []user.Type

	err := core.Transact(ctx, repo.db, func(tx core.DBTransactor) error {
		query, args, err := lockUserQuery(usr.ID)
		if err != nil {
			return errors.Wrap(err, "building lock query")
		}
		var orig userRow
		if err = tx.GetContext(ctx, &orig, query, args...); err != nil {
			return trapNoRowsErr(err, "locking user")
		}
		if err = checkUniqueness(ctx, tx, usr.Username, usr.Email, usr.Phone, []user.User{usr}); err != nil {
			return err
		}
		prevTypes = typesFromArray(orig.Types)

		usr.CreatedAt = orig.CreatedAt.Time
		if usr.PasswordHash == nil {
			usr.PasswordHash = orig.PasswordHash.Bytes
		}
		row := toUserRow(usr)
		query, args, err = psql.Update(userTable).SetMap(map[string]interface{}{
			"username":            row.Username,
			"email":               row.Email,
			"phone":               row.Phone,
			"first_name":          row.FirstName,
			"last_name":           row.LastName,
			"sex":                 row.Sex,
			"types":               row.Types,
			"is_staff":            row.IsStaff,
			"is_active":           row.IsActive,
			"is_phone_verified":   row.IsPhoneVerified,
			"is_email_verified":   row.IsEmailVerified,
			"is_account_verified": row.IsAccountVerified,
			"password_hash":       row.PasswordHash,
			"updated_at":          row.UpdatedAt,
			"last_login":          row.LastLogin,
		}).Where(sq.Eq{"id": row.ID}).ToSql()
		if err != nil {
			return errors.Wrap(err, "building update query")
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return trapUniqueErr(err, "updating user")
		}
		usr = row.toUser()
		return nil
	})
	if err != nil {
		return user.User{}, nil, err
	}
	return usr, prevTypes, nil
}

// DeleteUsersByID deletes users; their profile, extensions, memberships and institutes go with them.
func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string) (int, error) {
	if ids = validIDs(ids); len(ids) == 0 {
		return 0, nil
	}
	query, args, err := psql.Delete(userTable).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting users")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted users")
	}
	return int(cnt), nil
}
