package memdb

import (
	hcmemdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	PK = "id"

	userTable          = "user"
	profileTable       = "profile"
	extensionTable     = "extension"
	instituteTable     = "institute"
	groupTable         = "institute_group"
	groupMemberTable   = "institute_group_member"
	paymentStatusTable = "payment_status"

	usernameIndex    = "username"
	emailIndex       = "email"
	phoneIndex       = "phone"
	userIDIndex      = "user_id"
	userTypeIndex    = "user_type"
	ownerIDIndex     = "owner_id"
	instituteIDIndex = "institute_id"
	groupIDIndex     = "group_id"
	nameIndex        = "name"
)

// DB is an in-memory database holding every table of the application.
// Unique indexes of go-memdb replace rows silently, so uniqueness is checked by the repositories.
type DB struct {
	db *hcmemdb.MemDB
}

func Open() (*DB, error) {
	db, err := hcmemdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.Wrap(err, "opening memdb")
	}
	return &DB{db: db}, nil
}

func (db *DB) txn(write bool) *hcmemdb.Txn {
	return db.db.Txn(write)
}

func uuidPK(field string) *hcmemdb.IndexSchema {
	return &hcmemdb.IndexSchema{
		Name:    PK,
		Unique:  true,
		Indexer: &hcmemdb.UUIDFieldIndex{Field: field},
	}
}

func stringIndex(name, field string, lower, allowMissing bool) *hcmemdb.IndexSchema {
	return &hcmemdb.IndexSchema{
		Name:         name,
		AllowMissing: allowMissing,
		Indexer:      &hcmemdb.StringFieldIndex{Field: field, Lowercase: lower},
	}
}

func schema() *hcmemdb.DBSchema {
	return &hcmemdb.DBSchema{
		Tables: map[string]*hcmemdb.TableSchema{
			userTable: {
				Name: userTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK:            uuidPK("ID"),
					usernameIndex: stringIndex(usernameIndex, "Username", true, false),
					emailIndex:    stringIndex(emailIndex, "Email", true, true),
					phoneIndex:    stringIndex(phoneIndex, "Phone", false, true),
				},
			},
			profileTable: {
				Name: profileTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK:          uuidPK("ID"),
					userIDIndex: stringIndex(userIDIndex, "UserID", false, false),
				},
			},
			extensionTable: {
				Name: extensionTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK:          uuidPK("ID"),
					userIDIndex: stringIndex(userIDIndex, "UserID", false, false),
					userTypeIndex: {
						Name: userTypeIndex,
						Indexer: &hcmemdb.CompoundIndex{
							Indexes: []hcmemdb.Indexer{
								&hcmemdb.StringFieldIndex{Field: "UserID"},
								&hcmemdb.IntFieldIndex{Field: "Type"},
							},
						},
					},
				},
			},
			instituteTable: {
				Name: instituteTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK:           uuidPK("ID"),
					ownerIDIndex: stringIndex(ownerIDIndex, "OwnerID", false, false),
				},
			},
			groupTable: {
				Name: groupTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK:               uuidPK("ID"),
					instituteIDIndex: stringIndex(instituteIDIndex, "InstituteID", false, false),
					nameIndex:        stringIndex(nameIndex, "Name", false, false),
				},
			},
			groupMemberTable: {
				Name: groupMemberTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK: {
						Name:   PK,
						Unique: true,
						Indexer: &hcmemdb.CompoundIndex{
							Indexes: []hcmemdb.Indexer{
								&hcmemdb.StringFieldIndex{Field: "GroupID"},
								&hcmemdb.StringFieldIndex{Field: "UserID"},
							},
						},
					},
					groupIDIndex: stringIndex(groupIDIndex, "GroupID", false, false),
					userIDIndex:  stringIndex(userIDIndex, "UserID", false, false),
				},
			},
			paymentStatusTable: {
				Name: paymentStatusTable,
				Indexes: map[string]*hcmemdb.IndexSchema{
					PK: {
						Name:    PK,
						Unique:  true,
						Indexer: &hcmemdb.StringFieldIndex{Field: "UserID"},
					},
				},
			},
		},
	}
}

// groupMember is a row of the group membership table.
type groupMember struct {
	GroupID string
	UserID  string
}

// deleteAll deletes every row of `table` matching `index` = `args`.
func deleteAll(txn *hcmemdb.Txn, table, index string, args ...interface{}) error {
	_, err := txn.DeleteAll(table, index, args...)
	return errors.Wrapf(err, "deleting from %s", table)
}
