package memdb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core/user"
)

// accountStore stores profiles and extensions.
type accountStore struct {
	db *DB
}

var _ user.Store = (*accountStore)(nil) // interface compliance check

func NewAccountStore(db *DB) *accountStore {
	return &accountStore{db: db}
}

func copyProfile(p user.Profile) *user.Profile {
	if p.PresentAddress != nil {
		addr := *p.PresentAddress
		p.PresentAddress = &addr
	}
	if p.PermanentAddress != nil {
		addr := *p.PermanentAddress
		p.PermanentAddress = &addr
	}
	if p.Education != nil {
		edu := *p.Education
		p.Education = &edu
	}
	if p.ContactPhones != nil {
		p.ContactPhones = append([]string{}, p.ContactPhones...)
	}
	if p.ContactEmails != nil {
		p.ContactEmails = append([]string{}, p.ContactEmails...)
	}
	return &p
}

func firstProfile(txn *hcmemdb.Txn, userID string) (*user.Profile, error) {
	raw, err := txn.First(profileTable, userIDIndex, userID)
	if err != nil {
		return nil, errors.Wrap(err, "finding profile")
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*user.Profile), nil
}

func (s *accountStore) CreateProfile(ctx context.Context, usr user.User) (user.Profile, error) {
	txn := s.db.txn(true)
	defer txn.Abort()

	if _, err := getUser(txn, usr.ID); err != nil {
		return user.Profile{}, err
	}
	existing, err := firstProfile(txn, usr.ID)
	if err != nil {
		return user.Profile{}, err
	}
	if existing != nil {
		return user.Profile{}, user.ErrProfileExists
	}

	p := user.Profile{ID: uuid.New().String(), UserID: usr.ID}
	if err = txn.Insert(profileTable, copyProfile(p)); err != nil {
		return user.Profile{}, errors.Wrap(err, "inserting profile")
	}
	txn.Commit()
	return p, nil
}

func (s *accountStore) GetProfile(ctx context.Context, usr user.User) (user.Profile, error) {
	txn := s.db.txn(false)
	defer txn.Abort()

	p, err := firstProfile(txn, usr.ID)
	if err != nil {
		return user.Profile{}, err
	}
	if p == nil {
		return user.Profile{}, user.ErrProfileNotFound
	}
	return *copyProfile(*p), nil
}

func (s *accountStore) SaveProfile(ctx context.Context, p user.Profile) error {
	txn := s.db.txn(true)
	defer txn.Abort()

	existing, err := firstProfile(txn, p.UserID)
	if err != nil {
		return err
	}
	if existing == nil || existing.ID != p.ID {
		return user.ErrProfileNotFound
	}
	if err = txn.Insert(profileTable, copyProfile(p)); err != nil {
		return errors.Wrap(err, "updating profile")
	}
	txn.Commit()
	return nil
}

func firstExtension(txn *hcmemdb.Txn, t user.Type, userID string) (*user.Extension, error) {
	raw, err := txn.First(extensionTable, userTypeIndex, userID, t)
	if err != nil {
		return nil, errors.Wrap(err, "finding extension")
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*user.Extension), nil
}

func insertExtension(txn *hcmemdb.Txn, t user.Type, usr user.User, isActive bool) (user.Extension, error) {
	if !t.IsValid() {
		return user.Extension{}, errors.Wrapf(user.ErrInvalidType, "%d", t)
	}
	if _, err := getUser(txn, usr.ID); err != nil {
		return user.Extension{}, err
	}
	now := time.Now().UTC()
	ext := user.Extension{
		ID:        uuid.New().String(),
		UserID:    usr.ID,
		Type:      t,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := txn.Insert(extensionTable, &ext); err != nil {
		return user.Extension{}, errors.Wrap(err, "inserting extension")
	}
	return ext, nil
}

func (s *accountStore) CreateExtension(ctx context.Context, t user.Type, usr user.User, isActive bool) (user.Extension, error) {
	txn := s.db.txn(true)
	defer txn.Abort()

	existing, err := firstExtension(txn, t, usr.ID)
	if err != nil {
		return user.Extension{}, err
	}
	if existing != nil {
		return user.Extension{}, user.ErrExtensionExists
	}
	ext, err := insertExtension(txn, t, usr, isActive)
	if err != nil {
		return user.Extension{}, err
	}
	txn.Commit()
	return ext, nil
}

func (s *accountStore) UpsertExtension(ctx context.Context, t user.Type, usr user.User, isActive bool) (user.Extension, error) {
	txn := s.db.txn(true)
	defer txn.Abort()

	existing, err := firstExtension(txn, t, usr.ID)
	if err != nil {
		return user.Extension{}, err
	}

	var ext user.Extension
	if existing == nil {
		if ext, err = insertExtension(txn, t, usr, isActive); err != nil {
			return user.Extension{}, err
		}
	} else {
		ext = *existing
		ext.IsActive = isActive
		ext.UpdatedAt = time.Now().UTC()
		if err = txn.Insert(extensionTable, &ext); err != nil {
			return user.Extension{}, errors.Wrap(err, "updating extension")
		}
	}
	txn.Commit()
	return ext, nil
}

func (s *accountStore) GetExtension(ctx context.Context, t user.Type, usr user.User) (user.Extension, error) {
	txn := s.db.txn(false)
	defer txn.Abort()

	ext, err := firstExtension(txn, t, usr.ID)
	if err != nil {
		return user.Extension{}, err
	}
	if ext == nil {
		return user.Extension{}, user.ErrExtensionNotFound
	}
	return *ext, nil
}

func (s *accountStore) SaveExtension(ctx context.Context, ext user.Extension) error {
	txn := s.db.txn(true)
	defer txn.Abort()

	existing, err := firstExtension(txn, ext.Type, ext.UserID)
	if err != nil {
		return err
	}
	if existing == nil || existing.ID != ext.ID {
		return user.ErrExtensionNotFound
	}
	ext.CreatedAt = existing.CreatedAt
	ext.UpdatedAt = time.Now().UTC()
	if err = txn.Insert(extensionTable, &ext); err != nil {
		return errors.Wrap(err, "updating extension")
	}
	txn.Commit()
	return nil
}

func (s *accountStore) QueryExtensions(ctx context.Context, filter user.ExtensionFilter) ([]user.Extension, error) {
	txn := s.db.txn(false)
	defer txn.Abort()

	var it hcmemdb.ResultIterator
	var err error
	if filter.UserID != "" {
		it, err = txn.Get(extensionTable, userIDIndex, filter.UserID)
	} else {
		it, err = txn.Get(extensionTable, PK)
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying extensions")
	}

	types := make(map[user.Type]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}
	exts := make([]user.Extension, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		ext := raw.(*user.Extension)
		if len(types) > 0 && !types[ext.Type] {
			continue
		}
		if filter.IsActive != nil && ext.IsActive != *filter.IsActive {
			continue
		}
		exts = append(exts, *ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		if exts[i].UserID != exts[j].UserID {
			return exts[i].UserID < exts[j].UserID
		}
		return exts[i].Type < exts[j].Type
	})
	return exts, nil
}
