package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/jakariadev/institude/core/user"
)

// importColumns are the recognized header cells of an import spreadsheet; only "username" and "password" are required.
var importColumns = []string{"username", "email", "first_name", "last_name", "phone", "types", "password"}

func (cli *commandLine) importUsersCmd(args []string) error {
	fs := cli.newFlagSet("importusers")
	file := fs.String("file", "", "The .xlsx file; the first row is the header: "+strings.Join(importColumns, ",")+".")
	sheet := fs.String("sheet", "", "The sheet to read. Defaults to the first one.")
	groupID := fs.String("group", "", "Create the users in this group, with its type.")
	if err := parse(fs, args, "file"); err != nil {
		return err
	}
	return cli.importUsers(*file, *sheet, *groupID)
}

// importUsers creates a user per spreadsheet row. A failing row does not stop the others; all failures are returned.
func (cli *commandLine) importUsers(path, sheet, groupID string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return errors.Wrap(err, "opening spreadsheet")
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return errors.Wrapf(err, "reading sheet %q", sheet)
	}
	if len(rows) == 0 {
		return errors.Errorf("sheet %q is empty", sheet)
	}

	header := make(map[string]int, len(rows[0]))
	for i, cell := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(cell))] = i
	}
	for _, col := range []string{"username", "password"} {
		if _, ok := header[col]; !ok {
			return errors.Errorf("missing %q column", col)
		}
	}

	ctx := context.Background()
	var created int
	var result *multierror.Error
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, after the header
		cell := func(col string) string {
			idx, ok := header[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if cell("username") == "" && cell("email") == "" {
			continue // blank row
		}

		nu, err := rowToNewUser(cell)
		if err == nil {
			if groupID != "" {
				_, err = cli.instSvc.CreateUserInGroup(ctx, groupID, nu)
			} else {
				_, err = cli.usrSvc.Create(ctx, nu)
			}
		}
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "row %d (%s)", rowNum, cell("username")))
			continue
		}
		created++
	}

	_, _ = fmt.Fprintf(cli.out, "%d user(s) imported", created)
	if result != nil {
		_, _ = fmt.Fprintf(cli.out, ", %d row(s) failed", result.Len())
	}
	_, _ = fmt.Fprintln(cli.out)
	return result.ErrorOrNil()
}

func rowToNewUser(cell func(col string) string) (user.NewUser, error) {
	types, err := user.ParseTypes(cell("types"))
	if err != nil {
		return user.NewUser{}, err
	}
	pwd := cell("password")
	return user.NewUser{
		Username:        cell("username"),
		Email:           cell("email"),
		Phone:           cell("phone"),
		FirstName:       cell("first_name"),
		LastName:        cell("last_name"),
		Types:           types,
		Password:        pwd,
		PasswordConfirm: pwd,
	}, nil
}
