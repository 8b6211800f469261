package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) emailUserCmd(args []string) error {
	fs := cli.newFlagSet("emailuser")
	uname := fs.String("username", "", "The user's username or email.")
	subject := fs.String("subject", "", "The email subject.")
	message := fs.String("message", "", "The email body, plain text.")
	if err := parse(fs, args, "username", "subject", "message"); err != nil {
		return err
	}
	return cli.emailUser(*uname, *subject, *message)
}

func (cli *commandLine) emailUser(uname, subject, message string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = cli.usrSvc.EmailUser(ctx, usr.ID, subject, message); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "email sent to %s\n", usr.Email)
	return nil
}
