package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
)

const (
	instituteTable     = "institute"
	groupTable         = "institute_group"
	groupMemberTable   = "institute_group_member"
	paymentStatusTable = "payment_status"
)

var (
	instituteColumns = []string{
		"id", "owner_id", "eiin", "name", "address", "category", "contact_phones", "contact_emails",
		"contact_others", "description", "established_date", "created_at", "updated_at",
	}
	instituteOrderColumns = map[string]string{
		"name":       "name",
		"category":   "category",
		"created_at": "created_at",
	}
	groupColumns         = []string{"id", "institute_id", "kind", "name"}
	paymentStatusColumns = []string{"user_id", "amount", "duration_month", "status", "count", "created_at", "updated_at"}
)

type instituteRow struct {
	ID              string    `db:"id"`
	OwnerID         string    `db:"owner_id"`
	EIIN            string    `db:"eiin"`
	Name            string    `db:"name"`
	Address         null.JSON `db:"address"`
	Category        string    `db:"category"`
	ContactPhones   string    `db:"contact_phones"`
	ContactEmails   string    `db:"contact_emails"`
	ContactOthers   string    `db:"contact_others"`
	Description     string    `db:"description"`
	EstablishedDate null.Time `db:"established_date"`
	CreatedAt       null.Time `db:"created_at"`
	UpdatedAt       null.Time `db:"updated_at"`
}

func toInstituteRow(inst institute.Institute) (instituteRow, error) {
	addr, err := jsonColumn(inst.Address, inst.Address == nil)
	if err != nil {
		return instituteRow{}, errors.Wrap(err, "encoding address")
	}
	return instituteRow{
		ID:              inst.ID,
		OwnerID:         inst.OwnerID,
		EIIN:            inst.EIIN,
		Name:            inst.Name,
		Address:         addr,
		Category:        inst.Category,
		ContactPhones:   inst.ContactPhones,
		ContactEmails:   inst.ContactEmails,
		ContactOthers:   inst.ContactOthers,
		Description:     inst.Description,
		EstablishedDate: null.NewTime(inst.EstablishedDate.UTC(), !inst.EstablishedDate.IsZero()),
		CreatedAt:       null.NewTime(inst.CreatedAt.UTC(), !inst.CreatedAt.IsZero()),
		UpdatedAt:       null.NewTime(inst.UpdatedAt.UTC(), !inst.UpdatedAt.IsZero()),
	}, nil
}

func (r instituteRow) toInstitute() (institute.Institute, error) {
	inst := institute.Institute{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		EIIN:            r.EIIN,
		Name:            r.Name,
		Category:        r.Category,
		ContactPhones:   r.ContactPhones,
		ContactEmails:   r.ContactEmails,
		ContactOthers:   r.ContactOthers,
		Description:     r.Description,
		EstablishedDate: r.EstablishedDate.Time.UTC(),
		CreatedAt:       r.CreatedAt.Time.UTC(),
		UpdatedAt:       r.UpdatedAt.Time.UTC(),
	}
	if r.Address.Valid {
		inst.Address = new(user.Address)
		if err := r.Address.Unmarshal(inst.Address); err != nil {
			return institute.Institute{}, errors.Wrap(err, "decoding address")
		}
	}
	return inst, nil
}

func (r instituteRow) values() []interface{} {
	return []interface{}{
		r.ID, r.OwnerID, r.EIIN, r.Name, r.Address, r.Category, r.ContactPhones, r.ContactEmails,
		r.ContactOthers, r.Description, r.EstablishedDate, r.CreatedAt, r.UpdatedAt,
	}
}

type groupRow struct {
	ID          string `db:"id"`
	InstituteID string `db:"institute_id"`
	Kind        string `db:"kind"`
	Name        string `db:"name"`
}

func (r groupRow) toGroup() institute.Group {
	return institute.Group{ID: r.ID, InstituteID: r.InstituteID, Kind: institute.GroupKind(r.Kind), Name: r.Name}
}

type paymentStatusRow struct {
	UserID        string    `db:"user_id"`
	Amount        float64   `db:"amount"`
	DurationMonth int       `db:"duration_month"`
	Status        bool      `db:"status"`
	Count         int       `db:"count"`
	CreatedAt     null.Time `db:"created_at"`
	UpdatedAt     null.Time `db:"updated_at"`
}

type instituteRepository struct {
	db core.DB
}

var _ institute.Repository = (*instituteRepository)(nil) // interface compliance check

func NewInstituteRepository(db core.DB) *instituteRepository {
	return &instituteRepository{db: db}
}

func (repo *instituteRepository) CreateInstitute(ctx context.Context, inst institute.Institute) (institute.Institute, error) {
	inst.ID = uuid.New().String()
	row, err := toInstituteRow(inst)
	if err != nil {
		return institute.Institute{}, err
	}
	query, args, err := psql.Insert(instituteTable).Columns(instituteColumns...).Values(row.values()...).ToSql()
	if err != nil {
		return institute.Institute{}, errors.Wrap(err, "building insert query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return institute.Institute{}, errors.Wrap(user.ErrNotFound, "getting owner")
		}
		return institute.Institute{}, errors.Wrap(err, "inserting institute")
	}
	return inst, nil
}

func (repo *instituteRepository) GetInstitute(ctx context.Context, id string) (institute.Institute, error) {
	if !isValidID(id) {
		return institute.Institute{}, institute.ErrNotFound
	}
	query, args, err := psql.Select(instituteColumns...).From(instituteTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return institute.Institute{}, errors.Wrap(err, "building institute query")
	}
	var row instituteRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return institute.Institute{}, institute.ErrNotFound
		}
		return institute.Institute{}, errors.Wrap(err, "getting institute")
	}
	return row.toInstitute()
}

func (repo *instituteRepository) QueryInstitutes(ctx context.Context, filter institute.QueryFilter, ordering []core.DBOrdering) ([]institute.Institute, error) {
	qb := psql.Select(instituteColumns...).From(instituteTable)
	if filter.OwnerID != "" {
		if !isValidID(filter.OwnerID) {
			return []institute.Institute{}, nil
		}
		qb = qb.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		qb = qb.Where(sq.Or{sq.ILike{"name": val}, sq.ILike{"eiin": val}})
	}
	if filter.Category != "" {
		qb = qb.Where(sq.Eq{"category": filter.Category})
	}
	query, args, err := qb.OrderBy(orderBy(ordering, instituteOrderColumns, "name ASC")...).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building institutes query")
	}

	var rows []instituteRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying institutes")
	}
	insts := make([]institute.Institute, 0, len(rows))
	for _, r := range rows {
		inst, err := r.toInstitute()
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}
	return insts, nil
}

func (repo *instituteRepository) UpdateInstitute(ctx context.Context, inst institute.Institute) (institute.Institute, error) {
	if !isValidID(inst.ID) {
		return institute.Institute{}, institute.ErrNotFound
	}
	row, err := toInstituteRow(inst)
	if err != nil {
		return institute.Institute{}, err
	}
	query, args, err := psql.Update(instituteTable).SetMap(map[string]interface{}{
		"eiin":             row.EIIN,
		"name":             row.Name,
		"address":          row.Address,
		"category":         row.Category,
		"contact_phones":   row.ContactPhones,
		"contact_emails":   row.ContactEmails,
		"contact_others":   row.ContactOthers,
		"description":      row.Description,
		"established_date": row.EstablishedDate,
		"updated_at":       row.UpdatedAt,
	}).Where(sq.Eq{"id": row.ID}).Suffix("RETURNING " + joinColumns(instituteColumns)).ToSql()
	if err != nil {
		return institute.Institute{}, errors.Wrap(err, "building update query")
	}
	var updated instituteRow
	if err = repo.db.GetContext(ctx, &updated, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return institute.Institute{}, institute.ErrNotFound
		}
		return institute.Institute{}, errors.Wrap(err, "updating institute")
	}
	return updated.toInstitute()
}

// DeleteInstitutesByID deletes institutes; their groups and memberships go with them.
func (repo *instituteRepository) DeleteInstitutesByID(ctx context.Context, ids []string) (int, error) {
	if ids = validIDs(ids); len(ids) == 0 {
		return 0, nil
	}
	query, args, err := psql.Delete(instituteTable).Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building delete query")
	}
	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "deleting institutes")
	}
	cnt, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting deleted institutes")
	}
	return int(cnt), nil
}

func (repo *instituteRepository) CreateGroup(ctx context.Context, grp institute.Group) (institute.Group, error) {
	if !isValidID(grp.InstituteID) {
		return institute.Group{}, institute.ErrNotFound
	}
	grp.ID = uuid.New().String()
	query, args, err := psql.Insert(groupTable).Columns(groupColumns...).
		Values(grp.ID, grp.InstituteID, string(grp.Kind), grp.Name).ToSql()
	if err != nil {
		return institute.Group{}, errors.Wrap(err, "building insert query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		switch {
		case isUniqueViolation(err, ""):
			return institute.Group{}, institute.ErrGroupExists
		case isForeignKeyViolation(err):
			return institute.Group{}, institute.ErrNotFound
		}
		return institute.Group{}, errors.Wrap(err, "inserting group")
	}
	return grp, nil
}

func (repo *instituteRepository) GetGroup(ctx context.Context, id string) (institute.Group, error) {
	if !isValidID(id) {
		return institute.Group{}, institute.ErrGroupNotFound
	}
	query, args, err := psql.Select(groupColumns...).From(groupTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return institute.Group{}, errors.Wrap(err, "building group query")
	}
	var row groupRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return institute.Group{}, institute.ErrGroupNotFound
		}
		return institute.Group{}, errors.Wrap(err, "getting group")
	}
	return row.toGroup(), nil
}

func (repo *instituteRepository) QueryGroups(ctx context.Context, instituteID string) ([]institute.Group, error) {
	if !isValidID(instituteID) {
		return []institute.Group{}, nil
	}
	query, args, err := psql.Select(groupColumns...).From(groupTable).
		Where(sq.Eq{"institute_id": instituteID}).OrderBy("name ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building groups query")
	}
	var rows []groupRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	groups := make([]institute.Group, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, r.toGroup())
	}
	return groups, nil
}

func (repo *instituteRepository) SaveGroup(ctx context.Context, grp institute.Group) error {
	if !isValidID(grp.ID) {
		return institute.ErrGroupNotFound
	}
	query, args, err := psql.Update(groupTable).Set("name", grp.Name).Set("kind", string(grp.Kind)).
		Where(sq.Eq{"id": grp.ID}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building update query")
	}
	err = execOne(ctx, repo.db, query, args, institute.ErrGroupNotFound, "updating group")
	if isUniqueViolation(err, "") {
		return institute.ErrGroupExists
	}
	return err
}

func (repo *instituteRepository) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if !isValidID(groupID) {
		return institute.ErrGroupNotFound
	}
	if !isValidID(userID) {
		return user.ErrNotFound
	}
	query, args, err := psql.Insert(groupMemberTable).Columns("group_id", "user_id").Values(groupID, userID).
		Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return errors.Wrap(err, "building insert query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if pqErr := pqError(err); pqErr != nil && string(pqErr.Code) == foreignKeyViolation {
			if pqErr.Constraint == "institute_group_member_group_id_fkey" {
				return institute.ErrGroupNotFound
			}
			return user.ErrNotFound
		}
		return errors.Wrap(err, "inserting group member")
	}
	return nil
}

func (repo *instituteRepository) QueryGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if _, err := repo.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	query, args, err := psql.Select("m.user_id").From(groupMemberTable + " m").
		Join(userTable + " u ON u.id = m.user_id").
		Where(sq.Eq{"m.group_id": groupID}).OrderBy("u.username ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building members query")
	}
	ids := make([]string, 0)
	if err = repo.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying group members")
	}
	return ids, nil
}

func (repo *instituteRepository) GetPaymentStatus(ctx context.Context, userID string) (institute.PaymentStatus, error) {
	if !isValidID(userID) {
		return institute.PaymentStatus{}, institute.ErrPaymentNotFound
	}
	query, args, err := psql.Select(paymentStatusColumns...).From(paymentStatusTable).
		Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return institute.PaymentStatus{}, errors.Wrap(err, "building payment status query")
	}
	var row paymentStatusRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return institute.PaymentStatus{}, institute.ErrPaymentNotFound
		}
		return institute.PaymentStatus{}, errors.Wrap(err, "getting payment status")
	}
	return institute.PaymentStatus{
		UserID:        row.UserID,
		Amount:        row.Amount,
		DurationMonth: row.DurationMonth,
		Status:        row.Status,
		Count:         row.Count,
		CreatedAt:     row.CreatedAt.Time.UTC(),
		UpdatedAt:     row.UpdatedAt.Time.UTC(),
	}, nil
}

func (repo *instituteRepository) SavePaymentStatus(ctx context.Context, ps institute.PaymentStatus) (institute.PaymentStatus, error) {
	if !isValidID(ps.UserID) {
		return institute.PaymentStatus{}, user.ErrNotFound
	}
	query, args, err := psql.Insert(paymentStatusTable).Columns(paymentStatusColumns...).
		Values(ps.UserID, ps.Amount, ps.DurationMonth, ps.Status, ps.Count, ps.CreatedAt.UTC(), ps.UpdatedAt.UTC()).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET amount = EXCLUDED.amount, duration_month = EXCLUDED.duration_month,
			status = EXCLUDED.status, count = EXCLUDED.count, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return institute.PaymentStatus{}, errors.Wrap(err, "building upsert query")
	}
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return institute.PaymentStatus{}, user.ErrNotFound
		}
		return institute.PaymentStatus{}, errors.Wrap(err, "saving payment status")
	}
	return ps, nil
}
