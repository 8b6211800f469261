package main

import (
	"context"
	"fmt"

	"github.com/jakariadev/institude/core/user"
)

func (cli *commandLine) addToGroupCmd(args []string) error {
	fs := cli.newFlagSet("addtogroup")
	groupID := fs.String("group", "", "The group ID.")
	uname := fs.String("username", "", "The username of an existing user.")
	if err := parse(fs, args, "group", "username"); err != nil {
		return err
	}
	return cli.addToGroup(*groupID, *uname)
}

func (cli *commandLine) addToGroup(groupID, uname string) error {
	usr, err := cli.instSvc.AddUserToGroup(context.Background(), groupID, uname)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s added to group %s\n", usr.Username, groupID)
	return nil
}

func (cli *commandLine) createInGroupCmd(args []string) error {
	fs := cli.newFlagSet("createingroup")
	groupID := fs.String("group", "", "The group ID. The user gets the type of the group.")
	flags := bindNewUserFlags(fs, false)
	if err := parse(fs, args, "group", "username"); err != nil {
		return err
	}
	pwd, err := cli.readPassword(fs, "Enter password:")
	if err != nil {
		return err
	}
	nu, err := flags.newUser(pwd)
	if err != nil {
		return err
	}
	return cli.createInGroup(*groupID, nu)
}

func (cli *commandLine) createInGroup(groupID string, nu user.NewUser) error {
	usr, err := cli.instSvc.CreateUserInGroup(context.Background(), groupID, nu)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s created in group %s (types: %v)\n", usr.Username, groupID, usr.Types)
	return nil
}
