package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

const profileTable = "profile"

var profileColumns = []string{
	"id", "user_id", "bio", "birth_date", "blood_group", "religion", "nid", "about", "birth_registration_number",
	"present_address", "permanent_address", "education", "contact_phones", "contact_emails",
}

// extensionTables names the table holding the extensions of each user type.
// Each table has the common extension columns plus the user.DetailFields of its type.
var extensionTables = map[user.Type]string{
	user.TypeController: "controller_more",
	user.TypeTeacher:    "teacher_more",
	user.TypeStudent:    "student_more",
	user.TypeGuardian:   "guardian_more",
	user.TypeEmployee:   "employee_more",
}

var extensionColumns = []string{"id", "user_id", "is_active", "created_at", "updated_at"}

type profileRow struct {
	ID                      string         `db:"id"`
	UserID                  string         `db:"user_id"`
	Bio                     string         `db:"bio"`
	BirthDate               null.Time      `db:"birth_date"`
	BloodGroup              string         `db:"blood_group"`
	Religion                string         `db:"religion"`
	NID                     string         `db:"nid"`
	About                   string         `db:"about"`
	BirthRegistrationNumber string         `db:"birth_registration_number"`
	PresentAddress          null.JSON      `db:"present_address"`
	PermanentAddress        null.JSON      `db:"permanent_address"`
	Education               null.JSON      `db:"education"`
	ContactPhones           pq.StringArray `db:"contact_phones"`
	ContactEmails           pq.StringArray `db:"contact_emails"`
}

// jsonColumn marshals `v` unless it is nil.
func jsonColumn(v interface{}, isNil bool) (null.JSON, error) {
	if isNil {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return null.JSON{}, err
	}
	return null.JSONFrom(b), nil
}

func toProfileRow(p user.Profile) (profileRow, error) {
	row := profileRow{
		ID:                      p.ID,
		UserID:                  p.UserID,
		Bio:                     p.Bio,
		BirthDate:               null.NewTime(p.BirthDate.UTC(), !p.BirthDate.IsZero()),
		BloodGroup:              p.BloodGroup,
		Religion:                p.Religion,
		NID:                     p.NID,
		About:                   p.About,
		BirthRegistrationNumber: p.BirthRegistrationNumber,
		ContactPhones:           pq.StringArray(append([]string{}, p.ContactPhones...)),
		ContactEmails:           pq.StringArray(append([]string{}, p.ContactEmails...)),
	}
	var err error
	if row.PresentAddress, err = jsonColumn(p.PresentAddress, p.PresentAddress == nil); err != nil {
		return profileRow{}, errors.Wrap(err, "encoding present address")
	}
	if row.PermanentAddress, err = jsonColumn(p.PermanentAddress, p.PermanentAddress == nil); err != nil {
		return profileRow{}, errors.Wrap(err, "encoding permanent address")
	}
	if row.Education, err = jsonColumn(p.Education, p.Education == nil); err != nil {
		return profileRow{}, errors.Wrap(err, "encoding education")
	}
	return row, nil
}

func (r profileRow) toProfile() (user.Profile, error) {
	p := user.Profile{
		ID:                      r.ID,
		UserID:                  r.UserID,
		Bio:                     r.Bio,
		BirthDate:               r.BirthDate.Time.UTC(),
		BloodGroup:              r.BloodGroup,
		Religion:                r.Religion,
		NID:                     r.NID,
		About:                   r.About,
		BirthRegistrationNumber: r.BirthRegistrationNumber,
		ContactPhones:           []string(r.ContactPhones),
		ContactEmails:           []string(r.ContactEmails),
	}
	if r.PresentAddress.Valid {
		p.PresentAddress = new(user.Address)
		if err := r.PresentAddress.Unmarshal(p.PresentAddress); err != nil {
			return user.Profile{}, errors.Wrap(err, "decoding present address")
		}
	}
	if r.PermanentAddress.Valid {
		p.PermanentAddress = new(user.Address)
		if err := r.PermanentAddress.Unmarshal(p.PermanentAddress); err != nil {
			return user.Profile{}, errors.Wrap(err, "decoding permanent address")
		}
	}
	if r.Education.Valid {
		p.Education = new(user.Education)
		if err := r.Education.Unmarshal(p.Education); err != nil {
			return user.Profile{}, errors.Wrap(err, "decoding education")
		}
	}
	return p, nil
}

// extensionRow has a field for every detail column of every extension table; each table fills its own.
type extensionRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Designation          null.String  `db:"designation"`
	ExpertIn             null.String  `db:"expert_in"`
	LastInstitution      null.String  `db:"last_institution"`
	Resume               null.String  `db:"resume"`
	Level                null.String  `db:"level"`
	CurrentInstitution   null.String  `db:"current_institution"`
	FatherName           null.String  `db:"father_name"`
	MotherName           null.String  `db:"mother_name"`
	FatherOccupation     null.String  `db:"father_occupation"`
	MotherOccupation     null.String  `db:"mother_occupation"`
	Guardian             null.String  `db:"guardian"`
	GuardianRelationship null.String  `db:"guardian_relationship"`
	Occupation           null.String  `db:"occupation"`
	YearlyIncome         null.Float64 `db:"yearly_income"`
}

func (r extensionRow) toExtension(t user.Type) user.Extension {
	return user.Extension{
		ID:        r.ID,
		UserID:    r.UserID,
		Type:      t,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Details: user.Details{
			Designation:          r.Designation.String,
			ExpertIn:             r.ExpertIn.String,
			LastInstitution:      r.LastInstitution.String,
			Resume:               r.Resume.String,
			Level:                r.Level.String,
			CurrentInstitution:   r.CurrentInstitution.String,
			FatherName:           r.FatherName.String,
			MotherName:           r.MotherName.String,
			FatherOccupation:     r.FatherOccupation.String,
			MotherOccupation:     r.MotherOccupation.String,
			Guardian:             r.Guardian.String,
			GuardianRelationship: r.GuardianRelationship.String,
			Occupation:           r.Occupation.String,
			YearlyIncome:         r.YearlyIncome.Float64,
		}.ForType(t),
	}
}

// detailValues maps the detail columns of `t` to their values in `d`; unset details are stored as NULL.
func detailValues(t user.Type, d user.Details) (map[string]interface{}, error) {
	b, err := json.Marshal(d.ForType(t))
	if err != nil {
		return nil, errors.Wrap(err, "encoding details")
	}
	var set map[string]interface{}
	if err = json.Unmarshal(b, &set); err != nil {
		return nil, errors.Wrap(err, "decoding details")
	}
	values := make(map[string]interface{}, len(user.DetailFields[t]))
	for _, col := range user.DetailFields[t] {
		values[col] = set[col] // nil when unset
	}
	return values, nil
}

func extensionSelect(t user.Type) (sq.SelectBuilder, error) {
	table, ok := extensionTables[t]
	if !ok {
		return sq.SelectBuilder{}, errors.Wrapf(user.ErrInvalidType, "%d", t)
	}
	cols := append(append([]string{}, extensionColumns...), user.DetailFields[t]...)
	return psql.Select(cols...).From(table), nil
}

// accountStore stores profiles and extensions.
type accountStore struct {
	db core.DB
}

var _ user.Store = (*accountStore)(nil) // interface compliance check

func NewAccountStore(db core.DB) *accountStore {
	return &accountStore{db: db}
}

func (s *accountStore) CreateProfile(ctx context.Context, usr user.User) (user.Profile, error) {
	p := user.Profile{ID: uuid.New().String(), UserID: usr.ID}
	query, args, err := psql.Insert(profileTable).Columns("id", "user_id").Values(p.ID, p.UserID).ToSql()
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "building insert query")
	}
	if _, err = s.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case isUniqueViolation(err, ""):
			return user.Profile{}, user.ErrProfileExists
		case isForeignKeyViolation(err):
			return user.Profile{}, user.ErrNotFound
		}
		return user.Profile{}, errors.Wrap(err, "inserting profile")
	}
	return p, nil
}

func (s *accountStore) GetProfile(ctx context.Context, usr user.User) (user.Profile, error) {
	if !isValidID(usr.ID) {
		return user.Profile{}, user.ErrProfileNotFound
	}
	query, args, err := psql.Select(profileColumns...).From(profileTable).Where(sq.Eq{"user_id": usr.ID}).ToSql()
	if err != nil {
		return user.Profile{}, errors.Wrap(err, "building profile query")
	}
	var row profileRow
	if err = s.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.Profile{}, user.ErrProfileNotFound
		}
		return user.Profile{}, errors.Wrap(err, "getting profile")
	}
	return row.toProfile()
}

func (s *accountStore) SaveProfile(ctx context.Context, p user.Profile) error {
	if !isValidID(p.ID) {
		return user.ErrProfileNotFound
	}
	row, err := toProfileRow(p)
	if err != nil {
		return err
	}
	query, args, err := psql.Update(profileTable).SetMap(map[string]interface{}{
		"bio":                       row.Bio,
		"birth_date":                row.BirthDate,
		"blood_group":               row.BloodGroup,
		"religion":                  row.Religion,
		"nid":                       row.NID,
		"about":                     row.About,
		"birth_registration_number": row.BirthRegistrationNumber,
		"present_address":           row.PresentAddress,
		"permanent_address":         row.PermanentAddress,
		"education":                 row.Education,
		"contact_phones":            row.ContactPhones,
		"contact_emails":            row.ContactEmails,
	}).Where(sq.Eq{"id": row.ID, "user_id": row.UserID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building update query")
	}
	return execOne(ctx, s.db, query, args, user.ErrProfileNotFound, "updating profile")
}

// execOne runs a statement expected to affect exactly one row; `notFound` is returned when none was.
func execOne(ctx context.Context, exec core.DBExecutor, query string, args []interface{}, notFound error, msg string) error {
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if cnt == 0 {
		return notFound
	}
	return nil
}

// upsertSuffix keeps the id and details of an existing row, relying on the unique user_id of the extension tables.
const upsertSuffix = "ON CONFLICT (user_id) DO UPDATE SET is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at"

func insertExtensionQuery(t user.Type, usr user.User, isActive bool, now time.Time, suffix string) (string, []interface{}, error) {
	table, ok := extensionTables[t]
	if !ok {
		return "", nil, errors.Wrapf(user.ErrInvalidType, "%d", t)
	}
	qb := psql.Insert(table).Columns(extensionColumns...).
		Values(uuid.New().String(), usr.ID, isActive, now, now)
	if suffix != "" {
		qb = qb.Suffix(suffix)
	}
	query, args, err := qb.Suffix("RETURNING " + columnList(t)).ToSql()
	if err != nil {
		return "", nil, errors.Wrap(err, "building insert query")
	}
	return query, args, nil
}

func (s *accountStore) insertExtension(ctx context.Context, t user.Type, usr user.User, isActive bool, suffix string) (user.Extension, error) {
	query, args, err := insertExtensionQuery(t, usr, isActive, time.Now().UTC(), suffix)
	if err != nil {
		return user.Extension{}, err
	}
	var row extensionRow
	if err = s.db.GetContext(ctx, &row, query, args...); err != nil {
		switch {
		case isUniqueViolation(err, ""):
			return user.Extension{}, user.ErrExtensionExists
		case isForeignKeyViolation(err):
			return user.Extension{}, user.ErrNotFound
		}
		return user.Extension{}, errors.Wrapf(err, "inserting %s extension", t)
	}
	return row.toExtension(t), nil
}

func columnList(t user.Type) string {
	return joinColumns(extensionColumns) + ", " + joinColumns(user.DetailFields[t])
}

func (s *accountStore) CreateExtension(ctx context.Context, t user.Type, usr user.User, isActive bool) (user.Extension, error) {
	return s.insertExtension(ctx, t, usr, isActive, "")
}

func (s *accountStore) UpsertExtension(ctx context.Context, t user.Type, usr user.User, isActive bool) (user.Extension, error) {
	return s.insertExtension(ctx, t, usr, isActive, upsertSuffix)
}

func (s *accountStore) GetExtension(ctx context.Context, t user.Type, usr user.User) (user.Extension, error) {
	qb, err := extensionSelect(t)
	if err != nil {
		return user.Extension{}, err
	}
	if !isValidID(usr.ID) {
		return user.Extension{}, user.ErrExtensionNotFound
	}
	query, args, err := qb.Where(sq.Eq{"user_id": usr.ID}).ToSql()
	if err != nil {
		return user.Extension{}, errors.Wrap(err, "building extension query")
	}
	var row extensionRow
	if err = s.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return user.Extension{}, user.ErrExtensionNotFound
		}
		return user.Extension{}, errors.Wrapf(err, "getting %s extension", t)
	}
	return row.toExtension(t), nil
}

func (s *accountStore) SaveExtension(ctx context.Context, ext user.Extension) error {
	table, ok := extensionTables[ext.Type]
	if !ok {
		return errors.Wrapf(user.ErrInvalidType, "%d", ext.Type)
	}
	if !isValidID(ext.ID) || !isValidID(ext.UserID) {
		return user.ErrExtensionNotFound
	}
	values, err := detailValues(ext.Type, ext.Details)
	if err != nil {
		return err
	}
	values["is_active"] = ext.IsActive
	values["updated_at"] = time.Now().UTC()

	query, args, err := psql.Update(table).SetMap(values).
		Where(sq.Eq{"id": ext.ID, "user_id": ext.UserID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building update query")
	}
	return execOne(ctx, s.db, query, args, user.ErrExtensionNotFound, "updating extension")
}

func (s *accountStore) QueryExtensions(ctx context.Context, filter user.ExtensionFilter) ([]user.Extension, error) {
	types := filter.Types
	if len(types) == 0 {
		types = user.AllTypes
	}
	if filter.UserID != "" && !isValidID(filter.UserID) {
		return []user.Extension{}, nil
	}

	exts := make([]user.Extension, 0)
	for _, t := range user.NormalizeTypes(types) {
		qb, err := extensionSelect(t)
		if err != nil {
			return nil, err
		}
		if filter.UserID != "" {
			qb = qb.Where(sq.Eq{"user_id": filter.UserID})
		}
		if filter.IsActive != nil {
			qb = qb.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		query, args, err := qb.ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "building extensions query")
		}
		var rows []extensionRow
		if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return nil, errors.Wrapf(err, "querying %s extensions", t)
		}
		for _, r := range rows {
			exts = append(exts, r.toExtension(t))
		}
	}
	sort.Slice(exts, func(i, j int) bool {
		if exts[i].UserID != exts[j].UserID {
			return exts[i].UserID < exts[j].UserID
		}
		return exts[i].Type < exts[j].Type
	})
	return exts, nil
}
