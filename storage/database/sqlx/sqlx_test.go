package sqlxrepos

import (
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

func TestInsertExtensionQuery(t *testing.T) {
	usr := user.User{ID: "3f7d6c9e-0d5b-4c1b-9a57-8d7e0b7f1a11"}
	now := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		suffix     string
		wantUpsert bool
	}{
		{name: "create"},
		{name: "upsert", suffix: upsertSuffix, wantUpsert: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			query, args, err := insertExtensionQuery(user.TypeTeacher, usr, true, now, tt.suffix)
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(query, "INSERT INTO teacher_more "), query)
			assert.Contains(t, query, "$5")
			assert.True(t, strings.HasSuffix(query,
				"RETURNING id, user_id, is_active, created_at, updated_at, designation, expert_in, last_institution, resume"), query)
			require.Len(t, args, 5)
			assert.Equal(t, usr.ID, args[1])
			assert.Equal(t, true, args[2])
			assert.Equal(t, now, args[3])

			idx := strings.Index(query, "ON CONFLICT (user_id) DO UPDATE SET is_active = EXCLUDED.is_active")
			if !tt.wantUpsert {
				assert.Equal(t, -1, idx)
				return
			}
			require.NotEqual(t, -1, idx)
			assert.Less(t, idx, strings.Index(query, "RETURNING"))
			// the id and the details of the existing row are kept
			assert.NotContains(t, query, "id = EXCLUDED.id")
			assert.NotContains(t, query, "designation = EXCLUDED")
		})
	}

	_, _, err := insertExtensionQuery(user.Type(9), usr, true, now, "")
	assert.True(t, errors.Is(err, user.ErrInvalidType))
}

func TestLockUserQuery(t *testing.T) {
	query, args, err := lockUserQuery("3f7d6c9e-0d5b-4c1b-9a57-8d7e0b7f1a11")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(query, `FROM "user" WHERE id = $1 FOR UPDATE`), query)
	assert.Contains(t, query, "types")
	assert.Equal(t, []interface{}{"3f7d6c9e-0d5b-4c1b-9a57-8d7e0b7f1a11"}, args)
}

func TestTrapUniqueErr(t *testing.T) {
	errBoom := errors.New("boom")
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "username", err: &pq.Error{Code: uniqueViolation, Constraint: "user_username_key"}, wantErr: user.ErrUsernameExists},
		{name: "email", err: &pq.Error{Code: uniqueViolation, Constraint: "user_email_key"}, wantErr: user.ErrEmailExists},
		{name: "phone", err: errors.Wrap(&pq.Error{Code: uniqueViolation, Constraint: "user_phone_key"}, "wrapped"), wantErr: user.ErrPhoneExists},
		{name: "other constraint", err: &pq.Error{Code: uniqueViolation, Constraint: "user_pkey"}},
		{name: "other code", err: &pq.Error{Code: foreignKeyViolation, Constraint: "user_email_key"}},
		{name: "not postgres", err: errBoom},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := trapUniqueErr(tt.err, "updating user")
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)
				return
			}
			assert.Equal(t, tt.err, errors.Cause(err))
			assert.Contains(t, err.Error(), "updating user")
		})
	}
}

func TestDetailValues(t *testing.T) {
	tests := []struct {
		name    string
		typ     user.Type
		details user.Details
		want    map[string]interface{}
	}{
		{
			name:    "unset details are null",
			typ:     user.TypeGuardian,
			details: user.Details{Occupation: "Farmer"},
			want:    map[string]interface{}{"occupation": "Farmer", "yearly_income": nil},
		},
		{
			name:    "other types' details are dropped",
			typ:     user.TypeController,
			details: user.Details{Designation: "Head", Level: "7"},
			want:    map[string]interface{}{"designation": "Head"},
		},
		{
			name: "empty",
			typ:  user.TypeTeacher,
			want: map[string]interface{}{"designation": nil, "expert_in": nil, "last_institution": nil, "resume": nil},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := detailValues(tt.typ, tt.details)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderBy(t *testing.T) {
	ordering := []core.DBOrdering{{Field: "Email", Ascending: true}, {Field: "password_hash"}, {Field: "created_at"}}
	assert.Equal(t, []string{"email ASC", "created_at DESC"}, orderBy(ordering, userOrderColumns, "username ASC"))
	assert.Equal(t, []string{"username ASC"}, orderBy(nil, userOrderColumns, "username ASC"))
}
