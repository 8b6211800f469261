package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/jakariadev/institude/core/user"
)

// newUserFlags holds the flags describing a new user.
type newUserFlags struct {
	username, email, phone, firstName, lastName, sex, types *string
	isStaff                                                 *bool
}

func bindNewUserFlags(fs *flag.FlagSet, withTypes bool) newUserFlags {
	flags := newUserFlags{
		username:  fs.String("username", "", "The user's username."),
		email:     fs.String("email", "", "The user's email."),
		phone:     fs.String("phone", "", "The user's phone number, E.164 formatted."),
		firstName: fs.String("first", "", "The user's first name."),
		lastName:  fs.String("last", "", "The user's last name."),
		sex:       fs.String("sex", "", "The user's sex: M, F, O or P."),
		isStaff:   fs.Bool("staff", false, "Whether the user is a staff member."),
	}
	if withTypes {
		flags.types = fs.String("types", "", "Comma separated user types: "+typeSlugs()+".")
	}
	return flags
}

func (f newUserFlags) newUser(pwd string) (user.NewUser, error) {
	nu := user.NewUser{
		Username:        *f.username,
		Email:           *f.email,
		Phone:           *f.phone,
		FirstName:       *f.firstName,
		LastName:        *f.lastName,
		Sex:             *f.sex,
		IsStaff:         *f.isStaff,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if f.types != nil {
		types, err := user.ParseTypes(*f.types)
		if err != nil {
			return user.NewUser{}, err
		}
		nu.Types = types
	}
	return nu, nil
}

func typeSlugs() string {
	slugs := make([]string, 0, len(user.AllTypes))
	for _, t := range user.AllTypes {
		slugs = append(slugs, t.Slug())
	}
	return strings.Join(slugs, ", ")
}

func (cli *commandLine) addUserCmd(args []string) error {
	fs := cli.newFlagSet("adduser")
	flags := bindNewUserFlags(fs, true)
	if err := parse(fs, args, "username"); err != nil {
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
	return cli.addUser(nu)
}

// addUser creates a user.User; its profile and extensions are created along.
func (cli *commandLine) addUser(nu user.NewUser) error {
	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "user %s created (id: %s, types: %v)\n", usr.Username, usr.ID, usr.Types)
	return nil
}
