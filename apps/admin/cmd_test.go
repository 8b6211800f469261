package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
	"github.com/jakariadev/institude/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env, *bytes.Buffer) {
	env := testutil.NewEnv(t)
	out := new(bytes.Buffer)

	origReadPassword := readPasswordFunc
	t.Cleanup(func() { readPasswordFunc = origReadPassword })

	return &commandLine{usrSvc: env.UsrSvc, instSvc: env.InstSvc, out: out}, env, out
}

type cliTest struct {
	name           string
	args           []string // without program name
	pwd            string   // what the password prompt returns
	wantErr        error
	wantValidation bool
	check          func(t *testing.T, out string)
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			readPasswordFunc = func(int) ([]byte, error) { return []byte(tt.pwd), nil }

			err := cli.run(append([]string{"admin"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "cli.run() error = %v, wantErr %v", err, tt.wantErr)
			case tt.wantValidation:
				require.Error(t, err)
				assert.True(t, core.IsValidationError(err), "cli.run() error = %v, want a validation error", err)
			default:
				require.NoError(t, err)
				if tt.check != nil {
					tt.check(t, out.String())
				}
			}
		})
	}
}

func Test_commandLine_run(t *testing.T) {
	cli, _, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "help flag", args: []string{"adduser", "-h"}, wantErr: errHelp},
	})
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, out := setup(t)

	origGooseRun := gooseRunFunc
	t.Cleanup(func() { gooseRunFunc = origGooseRun })
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	t.Run("memory storage", func(t *testing.T) {
		err := cli.run([]string{"admin", "migrate", "up"})
		assert.Equal(t, errNoDatabase, err)
	})

	cli.db = sqlx.NewDb(nil, "postgres")

	tests := []struct {
		name       string
		args       []string
		wantErr    error
		wantErrStr string
	}{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "1"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "attendance", "sql"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(append([]string{"admin"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, err)
			case tt.wantErrStr != "":
				require.Error(t, err)
				assert.Equal(t, tt.wantErrStr, err.Error())
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	env.CreateUser(t, "taken")

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "bob"}, wantErr: errHelp},
		{name: "invalid type", args: []string{"adduser", "-username", "bob", "-types", "wizard"}, pwd: testutil.StrongPassword, wantErr: user.ErrInvalidType},
		{name: "weak password", args: []string{"adduser", "-username", "bob"}, pwd: "12345678", wantValidation: true},
		{name: "username taken", args: []string{"adduser", "-username", "Taken"}, pwd: testutil.StrongPassword, wantValidation: true},
		{
			name: "with types",
			args: []string{"adduser", "-username", "bob", "-email", "bob@test.cd", "-types", "teacher,student"},
			pwd:  testutil.StrongPassword,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "user bob created")

				usr, err := env.UsrSvc.GetByUsername(ctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, []user.Type{user.TypeTeacher, user.TypeStudent}, usr.Types)
				require.NoError(t, usr.CheckPassword(testutil.StrongPassword))

				exts, err := env.UsrSvc.Extensions(ctx, usr.ID)
				require.NoError(t, err)
				require.Len(t, exts, 2)
				for _, ext := range exts {
					assert.True(t, ext.IsActive)
				}
				_, err = env.UsrSvc.Profile(ctx, usr.ID)
				assert.NoError(t, err)
			},
		},
		{
			name: "without types",
			args: []string{"adduser", "-username", "carl", "-staff"},
			pwd:  testutil.StrongPassword,
			check: func(t *testing.T, out string) {
				usr, err := env.UsrSvc.GetByUsername(ctx, "carl")
				require.NoError(t, err)
				assert.Empty(t, usr.Types)
				assert.True(t, usr.IsStaff)

				exts, err := env.UsrSvc.Extensions(ctx, usr.ID)
				require.NoError(t, err)
				assert.Empty(t, exts)
			},
		},
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	usr := env.CreateUser(t, "awe")

	passwordChangedTo := func(pwd string) func(t *testing.T, out string) {
		return func(t *testing.T, out string) {
			refreshed, err := env.UsrSvc.GetByID(ctx, usr.ID)
			require.NoError(t, err)
			assert.NoError(t, refreshed.CheckPassword(pwd))
		}
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "awe"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol", check: passwordChangedTo("lol")},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "lmao", check: passwordChangedTo("lmao")},
	})
}

func Test_commandLine_setTypes(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	usr := env.CreateUser(t, "alice", user.TypeTeacher, user.TypeStudent)

	activeTypes := func(t *testing.T) []user.Type {
		exts, err := env.UsrSvc.Extensions(ctx, usr.ID)
		require.NoError(t, err)
		var types []user.Type
		for _, ext := range exts {
			if ext.IsActive {
				types = append(types, ext.Type)
			}
		}
		return types
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"settypes"}, wantErr: errHelp},
		{name: "user not found", args: []string{"settypes", "-username", "lol", "-types", "student"}, wantErr: user.ErrNotFound},
		{name: "invalid type", args: []string{"settypes", "-username", "alice", "-types", "student,wizard"}, wantErr: user.ErrInvalidType},
		{
			name: "replace types",
			args: []string{"settypes", "-username", "alice", "-types", "student,guardian"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "user alice now has types")
				refreshed, err := env.UsrSvc.GetByID(ctx, usr.ID)
				require.NoError(t, err)
				assert.Equal(t, []user.Type{user.TypeStudent, user.TypeGuardian}, refreshed.Types)
				assert.Equal(t, []user.Type{user.TypeStudent, user.TypeGuardian}, activeTypes(t))

				teacher, err := env.UsrSvc.Extension(ctx, usr.ID, user.TypeTeacher)
				require.NoError(t, err)
				assert.False(t, teacher.IsActive)
			},
		},
		{
			name: "remove all types",
			args: []string{"settypes", "-username", "alice@test.cd"},
			check: func(t *testing.T, out string) {
				refreshed, err := env.UsrSvc.GetByID(ctx, usr.ID)
				require.NoError(t, err)
				assert.Empty(t, refreshed.Types)
				assert.Empty(t, activeTypes(t))
			},
		},
	})
}

func Test_commandLine_emailUser(t *testing.T) {
	cli, env, out := setup(t)
	usr := env.CreateUser(t, "mailme")
	noMail, err := env.UsrSvc.Create(context.Background(), user.NewUser{
		Username:        "nomail",
		Password:        testutil.StrongPassword,
		PasswordConfirm: testutil.StrongPassword,
	})
	require.NoError(t, err)

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"emailuser"}, wantErr: errHelp},
		{name: "missing message", args: []string{"emailuser", "-username", "mailme", "-subject", "Hi"}, wantErr: errHelp},
		{name: "user not found", args: []string{"emailuser", "-username", "lol", "-subject", "Hi", "-message", "Hello"}, wantErr: user.ErrNotFound},
		{name: "no email", args: []string{"emailuser", "-username", noMail.Username, "-subject", "Hi", "-message", "Hello"}, wantErr: user.ErrNoEmail},
		{
			name: "sent",
			args: []string{"emailuser", "-username", "mailme", "-subject", "Fees", "-message", "Please pay."},
			check: func(t *testing.T, out string) {
				sent := env.Mail.Sent()
				require.Len(t, sent, 1)
				assert.Equal(t, "Fees", sent[0].Subject)
				assert.Equal(t, "Please pay.", sent[0].Body)
				require.Len(t, sent[0].To, 1)
				assert.Equal(t, usr.Email, sent[0].To[0].Address)
			},
		},
	})
}

func Test_commandLine_institutes(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	owner := env.CreateUser(t, "owner")

	instArgs := []string{
		"addinstitute", "-owner", "owner", "-name", "Sunrise", "-category", institute.CategoryPrimary,
		"-phones", "+8801700000000", "-email", "office@sunrise.test", "-established", "2001-05-01",
	}
	var inst institute.Institute

	runCLITests(t, cli, out, []cliTest{
		{name: "addinstitute: no args", args: []string{"addinstitute"}, wantErr: errHelp},
		{name: "addinstitute: unpaid", args: instArgs, wantErr: institute.ErrPaymentRequired},
		{name: "setpayment: no args", args: []string{"setpayment"}, wantErr: errHelp},
		{name: "setpayment: user not found", args: []string{"setpayment", "-username", "lol"}, wantErr: user.ErrNotFound},
		{name: "setpayment: inactive", args: []string{"setpayment", "-username", "owner", "-active=false"}},
		{name: "addinstitute: inactive payment", args: instArgs, wantErr: institute.ErrPaymentRequired},
		{
			name: "setpayment: active",
			args: []string{"setpayment", "-username", "owner", "-amount", "150", "-months", "6"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "payments: 2")
				ps, err := env.InstSvc.PaymentStatus(ctx, owner.ID)
				require.NoError(t, err)
				assert.True(t, ps.Status)
				assert.Equal(t, 150.0, ps.Amount)
				assert.Equal(t, 6, ps.DurationMonth)
			},
		},
		{
			name:           "addinstitute: invalid category",
			args:           append(append([]string{}, instArgs[:5]...), append([]string{"-category", "lol"}, instArgs[7:]...)...),
			wantValidation: true,
		},
		{
			name: "addinstitute",
			args: instArgs,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, `institute "Sunrise" created`)
				insts, err := env.InstSvc.Query(ctx, institute.QueryFilter{OwnerID: owner.ID})
				require.NoError(t, err)
				require.Len(t, insts, 1)
				inst = insts[0]

				groups, err := env.InstSvc.Groups(ctx, inst.ID)
				require.NoError(t, err)
				require.Len(t, groups, len(institute.GroupKinds))
				for _, grp := range groups {
					assert.Contains(t, out, grp.Name)
				}

				members, err := env.InstSvc.GroupMembers(ctx, env.Group(t, inst.ID, institute.GroupController).ID)
				require.NoError(t, err)
				require.Len(t, members, 1)
				assert.Equal(t, owner.ID, members[0].ID)
			},
		},
	})

	require.NotEmpty(t, inst.ID)
	runCLITests(t, cli, out, []cliTest{
		{name: "renameinstitute: no args", args: []string{"renameinstitute"}, wantErr: errHelp},
		{name: "renameinstitute: not found", args: []string{"renameinstitute", "-id", "lol", "-name", "Dawn"}, wantErr: institute.ErrNotFound},
		{
			name: "renameinstitute",
			args: []string{"renameinstitute", "-id", inst.ID, "-name", "Dawn"},
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, institute.GroupName("Dawn", inst.ID, institute.GroupStudents))
				assert.NotContains(t, out, "Sunrise")
			},
		},
		{name: "groups: not found", args: []string{"groups", "-institute", "lol"}, wantErr: institute.ErrNotFound},
		{
			name: "groups",
			args: []string{"groups", "-institute", inst.ID},
			check: func(t *testing.T, out string) {
				for _, kind := range institute.GroupKinds {
					assert.Contains(t, out, institute.GroupName("Dawn", inst.ID, kind))
				}
			},
		},
	})
}

func Test_commandLine_groups(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	owner := env.CreateUser(t, "owner")
	inst := env.CreateInstitute(t, owner, "Sunrise")
	teachers := env.Group(t, inst.ID, institute.GroupTeachers)
	students := env.Group(t, inst.ID, institute.GroupStudents)
	env.CreateUser(t, "mentor", user.TypeTeacher)

	memberNames := func(t *testing.T, groupID string) []string {
		members, err := env.InstSvc.GroupMembers(ctx, groupID)
		require.NoError(t, err)
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.Username)
		}
		return names
	}

	runCLITests(t, cli, out, []cliTest{
		{name: "addtogroup: no args", args: []string{"addtogroup"}, wantErr: errHelp},
		{name: "addtogroup: group not found", args: []string{"addtogroup", "-group", "lol", "-username", "mentor"}, wantErr: institute.ErrGroupNotFound},
		{name: "addtogroup: user not found", args: []string{"addtogroup", "-group", teachers.ID, "-username", "lol"}, wantErr: user.ErrNotFound},
		{
			name: "addtogroup",
			args: []string{"addtogroup", "-group", teachers.ID, "-username", "mentor"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, []string{"mentor"}, memberNames(t, teachers.ID))
			},
		},
		{
			name: "addtogroup: twice",
			args: []string{"addtogroup", "-group", teachers.ID, "-username", "mentor"},
			check: func(t *testing.T, out string) {
				assert.Equal(t, []string{"mentor"}, memberNames(t, teachers.ID))
			},
		},
		{name: "createingroup: no password", args: []string{"createingroup", "-group", students.ID, "-username", "kid"}, wantErr: errHelp},
		{
			name: "createingroup",
			args: []string{"createingroup", "-group", students.ID, "-username", "kid", "-first", "Kid"},
			pwd:  testutil.StrongPassword,
			check: func(t *testing.T, out string) {
				assert.Equal(t, []string{"kid"}, memberNames(t, students.ID))

				kid, err := env.UsrSvc.GetByUsername(ctx, "kid")
				require.NoError(t, err)
				assert.Equal(t, []user.Type{user.TypeStudent}, kid.Types)

				ext, err := env.UsrSvc.Extension(ctx, kid.ID, user.TypeStudent)
				require.NoError(t, err)
				assert.True(t, ext.IsActive)
			},
		},
	})
}

func writeSpreadsheet(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		row := row
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	path := filepath.Join(t.TempDir(), "users.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func Test_commandLine_importUsers(t *testing.T) {
	cli, env, out := setup(t)
	ctx := context.Background()
	env.CreateUser(t, "taken")
	owner := env.CreateUser(t, "owner")
	inst := env.CreateInstitute(t, owner, "Sunrise")
	guardians := env.Group(t, inst.ID, institute.GroupGuardians)

	pwd := testutil.StrongPassword
	header := []interface{}{"username", "email", "first_name", "last_name", "phone", "types", "password"}
	mixed := writeSpreadsheet(t, [][]interface{}{
		header,
		{"imp_one", "imp_one@test.cd", "One", "", "", "teacher", pwd},
		{"imp_two", "", "Two", "", "", "student,guardian", pwd},
		{"", "", "", "", "", "", ""},
		{"imp_three", "", "", "", "", "wizard", pwd},
		{"taken", "", "", "", "", "", pwd},
	})
	inGroup := writeSpreadsheet(t, [][]interface{}{
		header,
		{"parent_a", "", "", "", "", "", pwd},
		{"parent_b", "", "", "", "", "teacher", pwd},
	})
	noPassword := writeSpreadsheet(t, [][]interface{}{{"username", "email"}, {"someone", ""}})

	runCLITests(t, cli, out, []cliTest{
		{name: "no args", args: []string{"importusers"}, wantErr: errHelp},
	})

	t.Run("missing password column", func(t *testing.T) {
		err := cli.run([]string{"admin", "importusers", "-file", noPassword})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `missing "password" column`)
	})

	t.Run("missing file", func(t *testing.T) {
		err := cli.run([]string{"admin", "importusers", "-file", filepath.Join(t.TempDir(), "nope.xlsx")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opening spreadsheet")
	})

	t.Run("failing rows are reported, the others imported", func(t *testing.T) {
		out.Reset()
		err := cli.run([]string{"admin", "importusers", "-file", mixed})
		require.Error(t, err)

		var merr *multierror.Error
		require.True(t, errors.As(err, &merr))
		require.Len(t, merr.Errors, 2)
		assert.Contains(t, merr.Errors[0].Error(), "row 5 (imp_three)")
		assert.True(t, errors.Is(merr.Errors[0], user.ErrInvalidType))
		assert.Contains(t, merr.Errors[1].Error(), "row 6 (taken)")
		assert.True(t, core.IsValidationError(merr.Errors[1]))
		assert.Contains(t, out.String(), "2 user(s) imported, 2 row(s) failed")

		one, err := env.UsrSvc.GetByUsername(ctx, "imp_one")
		require.NoError(t, err)
		assert.Equal(t, []user.Type{user.TypeTeacher}, one.Types)
		assert.Equal(t, "imp_one@test.cd", one.Email)

		two, err := env.UsrSvc.GetByUsername(ctx, "imp_two")
		require.NoError(t, err)
		assert.Equal(t, []user.Type{user.TypeStudent, user.TypeGuardian}, two.Types)
		exts, err := env.UsrSvc.Extensions(ctx, two.ID)
		require.NoError(t, err)
		assert.Len(t, exts, 2)

		_, err = env.UsrSvc.GetByUsername(ctx, "imp_three")
		assert.True(t, errors.Is(err, user.ErrNotFound))
	})

	t.Run("in group", func(t *testing.T) {
		out.Reset()
		require.NoError(t, cli.run([]string{"admin", "importusers", "-file", inGroup, "-group", guardians.ID}))
		assert.Contains(t, out.String(), "2 user(s) imported")

		members, err := env.InstSvc.GroupMembers(ctx, guardians.ID)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "parent_a", members[0].Username)
		assert.Equal(t, []user.Type{user.TypeGuardian}, members[0].Types)
		assert.Equal(t, "parent_b", members[1].Username)
		assert.Equal(t, []user.Type{user.TypeTeacher, user.TypeGuardian}, members[1].Types)
	})
}
