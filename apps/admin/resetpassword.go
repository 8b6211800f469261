package main

import (
	"context"
)

func (cli *commandLine) resetPasswordCmd(args []string) error {
	fs := cli.newFlagSet("resetpassword")
	uname := fs.String("username", "", "The user's username or email. The password will be prompted next.")
	if err := parse(fs, args, "username"); err != nil {
		return err
	}
	pwd, err := cli.readPassword(fs, "Enter password:")
	if err != nil {
		return err
	}
	return cli.resetPassword(*uname, pwd)
}

func (cli *commandLine) resetPassword(uname, pwd string) error {
	return cli.usrSvc.ResetPassword(context.Background(), uname, pwd)
}
