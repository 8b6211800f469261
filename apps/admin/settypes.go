package main

import (
	"context"
	"fmt"

	"github.com/jakariadev/institude/core/user"
)

func (cli *commandLine) setTypesCmd(args []string) error {
	fs := cli.newFlagSet("settypes")
	uname := fs.String("username", "", "The user's username or email.")
	typesFlag := fs.String("types", "", "Comma separated user types: "+typeSlugs()+". Pass \"\" to remove them all.")
	if err := parse(fs, args, "username"); err != nil {
		return err
	}
	types, err := user.ParseTypes(*typesFlag)
	if err != nil {
		return err
	}
	return cli.setTypes(*uname, types)
}

// setTypes replaces the types of a user; extensions of added types are activated, removed ones deactivated.
func (cli *commandLine) setTypes(uname string, types []user.Type) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if usr, err = cli.usrSvc.SetTypes(ctx, usr.ID, types); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s now has types %v\n", usr.Username, usr.Types)
	return nil
}
