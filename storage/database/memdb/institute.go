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
)

type instituteRepository struct {
	db *DB
}

var _ institute.Repository = (*instituteRepository)(nil) // interface compliance check

func NewInstituteRepository(db *DB) *instituteRepository {
	return &instituteRepository{db: db}
}

func copyInstitute(inst institute.Institute) *institute.Institute {
	if inst.Address != nil {
		addr := *inst.Address
		inst.Address = &addr
	}
	return &inst
}

func getInstitute(txn *hcmemdb.Txn, id string) (*institute.Institute, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, institute.ErrNotFound
	}
	raw, err := txn.First(instituteTable, PK, id)
	if err != nil {
		return nil, errors.Wrap(err, "finding institute by ID")
	}
	if raw == nil {
		return nil, institute.ErrNotFound
	}
	return raw.(*institute.Institute), nil
}

func (repo *instituteRepository) CreateInstitute(ctx context.Context, inst institute.Institute) (institute.Institute, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	if _, err := getUser(txn, inst.OwnerID); err != nil {
		return institute.Institute{}, errors.Wrap(err, "getting owner")
	}
	inst.ID = uuid.New().String()
	if err := txn.Insert(instituteTable, copyInstitute(inst)); err != nil {
		return institute.Institute{}, errors.Wrap(err, "inserting institute")
	}
	txn.Commit()
	return inst, nil
}

func (repo *instituteRepository) GetInstitute(ctx context.Context, id string) (institute.Institute, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	inst, err := getInstitute(txn, id)
	if err != nil {
		return institute.Institute{}, err
	}
	return *copyInstitute(*inst), nil
}

func (repo *instituteRepository) QueryInstitutes(ctx context.Context, filter institute.QueryFilter, ordering []core.DBOrdering) ([]institute.Institute, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	var it hcmemdb.ResultIterator
	var err error
	if filter.OwnerID != "" {
		it, err = txn.Get(instituteTable, ownerIDIndex, filter.OwnerID)
	} else {
		it, err = txn.Get(instituteTable, PK)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying institutes")
	}

	search := strings.ToLower(filter.Search)
	insts := make([]institute.Institute, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		inst := raw.(*institute.Institute)
		if search != "" && !strings.Contains(strings.ToLower(inst.Name), search) &&
			!strings.Contains(strings.ToLower(inst.EIIN), search) {
			continue
		}
		if filter.Category != "" && inst.Category != filter.Category {
			continue
		}
		insts = append(insts, *copyInstitute(*inst))
	}
	sortInstitutes(insts, ordering)
	return insts, nil
}

// sortInstitutes orders institutes by the supported fields; default ordering is by name.
func sortInstitutes(insts []institute.Institute, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "name", Ascending: true}}
	}
	sort.SliceStable(insts, func(i, j int) bool {
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "name":
				cmp = strings.Compare(insts[i].Name, insts[j].Name)
			case "category":
				cmp = strings.Compare(insts[i].Category, insts[j].Category)
			case "created_at":
				cmp = insts[i].CreatedAt.Compare(insts[j].CreatedAt)
			}
			if cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return false
	})
}

func (repo *instituteRepository) UpdateInstitute(ctx context.Context, inst institute.Institute) (institute.Institute, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	orig, err := getInstitute(txn, inst.ID)
	if err != nil {
		return institute.Institute{}, err
	}
	inst.OwnerID = orig.OwnerID
	inst.CreatedAt = orig.CreatedAt
	if err = txn.Insert(instituteTable, copyInstitute(inst)); err != nil {
		return institute.Institute{}, errors.Wrap(err, "updating institute")
	}
	txn.Commit()
	return inst, nil
}

func (repo *instituteRepository) DeleteInstitutesByID(ctx context.Context, ids []string) (int, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	var cnt int
	for _, id := range ids {
		inst, err := getInstitute(txn, id)
		if err == institute.ErrNotFound {
			continue
		} else if err != nil {
			return 0, err
		}
		if err = deleteInstituteCascade(txn, inst); err != nil {
			return 0, err
		}
		cnt++
	}
	txn.Commit()
	return cnt, nil
}

// deleteInstituteCascade deletes an institute with its groups and their memberships.
func deleteInstituteCascade(txn *hcmemdb.Txn, inst *institute.Institute) error {
	it, err := txn.Get(groupTable, instituteIDIndex, inst.ID)
	if err != nil {
		return errors.Wrap(err, "querying institute groups")
	}
	var groupIDs []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		groupIDs = append(groupIDs, raw.(*institute.Group).ID)
	}
	for _, id := range groupIDs {
		if err = deleteAll(txn, groupMemberTable, groupIDIndex, id); err != nil {
			return err
		}
	}
	if err = deleteAll(txn, groupTable, instituteIDIndex, inst.ID); err != nil {
		return err
	}
	return errors.Wrap(txn.Delete(instituteTable, inst), "deleting institute")
}

func getGroup(txn *hcmemdb.Txn, id string) (*institute.Group, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, institute.ErrGroupNotFound
	}
	raw, err := txn.First(groupTable, PK, id)
	if err != nil {
		return nil, errors.Wrap(err, "finding group by ID")
	}
	if raw == nil {
		return nil, institute.ErrGroupNotFound
	}
	return raw.(*institute.Group), nil
}

func checkGroupName(txn *hcmemdb.Txn, grp institute.Group) error {
	raw, err := txn.First(groupTable, nameIndex, grp.Name)
	if err != nil {
		return errors.Wrap(err, "finding group by name")
	}
	if raw != nil && raw.(*institute.Group).ID != grp.ID {
		return institute.ErrGroupExists
	}
	return nil
}

func (repo *instituteRepository) CreateGroup(ctx context.Context, grp institute.Group) (institute.Group, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	if _, err := getInstitute(txn, grp.InstituteID); err != nil {
		return institute.Group{}, err
	}
	if err := checkGroupName(txn, grp); err != nil {
		return institute.Group{}, err
	}
	grp.ID = uuid.New().String()
	g := grp
	if err := txn.Insert(groupTable, &g); err != nil {
		return institute.Group{}, errors.Wrap(err, "inserting group")
	}
	txn.Commit()
	return grp, nil
}

func (repo *instituteRepository) GetGroup(ctx context.Context, id string) (institute.Group, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	grp, err := getGroup(txn, id)
	if err != nil {
		return institute.Group{}, err
	}
	return *grp, nil
}

func (repo *instituteRepository) QueryGroups(ctx context.Context, instituteID string) ([]institute.Group, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	it, err := txn.Get(groupTable, instituteIDIndex, instituteID)
	if err != nil {
		return nil, errors.Wrap(err, "querying groups")
	}
	groups := make([]institute.Group, 0, len(institute.GroupKinds))
	for raw := it.Next(); raw != nil; raw = it.Next() {
		groups = append(groups, *raw.(*institute.Group))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (repo *instituteRepository) SaveGroup(ctx context.Context, grp institute.Group) error {
	txn := repo.db.txn(true)
	defer txn.Abort()

	orig, err := getGroup(txn, grp.ID)
	if err != nil {
		return err
	}
	if err = checkGroupName(txn, grp); err != nil {
		return err
	}
	grp.InstituteID = orig.InstituteID
	if err = txn.Insert(groupTable, &grp); err != nil {
		return errors.Wrap(err, "updating group")
	}
	txn.Commit()
	return nil
}

func (repo *instituteRepository) AddGroupMember(ctx context.Context, groupID, userID string) error {
	txn := repo.db.txn(true)
	defer txn.Abort()

	if _, err := getGroup(txn, groupID); err != nil {
		return err
	}
	if _, err := getUser(txn, userID); err != nil {
		return err
	}
	// the compound PK makes re-inserting an existing membership a no-op
	if err := txn.Insert(groupMemberTable, &groupMember{GroupID: groupID, UserID: userID}); err != nil {
		return errors.Wrap(err, "inserting group member")
	}
	txn.Commit()
	return nil
}

func (repo *instituteRepository) QueryGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	if _, err := getGroup(txn, groupID); err != nil {
		return nil, err
	}
	it, err := txn.Get(groupMemberTable, groupIDIndex, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "querying group members")
	}
	type member struct {
		id, username string
	}
	var members []member
	for raw := it.Next(); raw != nil; raw = it.Next() {
		id := raw.(*groupMember).UserID
		usr, err := getUser(txn, id)
		if err != nil {
			return nil, err
		}
		members = append(members, member{id: id, username: usr.Username})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].username < members[j].username })

	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.id)
	}
	return ids, nil
}

func (repo *instituteRepository) GetPaymentStatus(ctx context.Context, userID string) (institute.PaymentStatus, error) {
	txn := repo.db.txn(false)
	defer txn.Abort()

	raw, err := txn.First(paymentStatusTable, PK, userID)
	if err != nil {
		return institute.PaymentStatus{}, errors.Wrap(err, "finding payment status")
	}
	if raw == nil {
		return institute.PaymentStatus{}, institute.ErrPaymentNotFound
	}
	return *raw.(*institute.PaymentStatus), nil
}

func (repo *instituteRepository) SavePaymentStatus(ctx context.Context, ps institute.PaymentStatus) (institute.PaymentStatus, error) {
	txn := repo.db.txn(true)
	defer txn.Abort()

	if _, err := getUser(txn, ps.UserID); err != nil {
		return institute.PaymentStatus{}, err
	}
	row := ps
	if err := txn.Insert(paymentStatusTable, &row); err != nil {
		return institute.PaymentStatus{}, errors.Wrap(err, "saving payment status")
	}
	txn.Commit()
	return ps, nil
}
