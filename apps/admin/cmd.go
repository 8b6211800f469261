package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("this command requires the postgres storage")
)

type commandLine struct {
	db      *sqlx.DB // nil with the memory storage
	usrSvc  *user.Service
	instSvc *institute.Service
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprint(cli.out, `Usage:
  migrate COMMAND [ARGS]                        - run a goose command (up, down, status, ...)
  adduser -username U [-email E] [-types T,..]   - create a user; the password is prompted
  resetpassword -username USERNAME|EMAIL         - reset user's password; the password is prompted
  settypes -username U -types T,..               - replace the types of a user
  emailuser -username U -subject S -message M    - email a user
  addinstitute -owner U -name N -category C ...  - create an institute and its groups
  renameinstitute -id ID -name N                 - rename an institute and its groups
  groups -institute ID                           - list the groups of an institute
  addtogroup -group ID -username U               - add an existing user to a group
  createingroup -group ID -username U ...        - create a user in a group; the password is prompted
  setpayment -username U [-amount A] [-months M] [-active]
                                                 - record a payment of a user
  importusers -file F.xlsx [-sheet S] [-group ID]
                                                 - create the users of a spreadsheet
`)
}

// newFlagSet returns a flag set that reports parse errors instead of exiting.
func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// parse parses `args` into `fs` and checks that every flag of `required` was set.
func parse(fs *flag.FlagSet, args []string, required ...string) error {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return errHelp
		}
		return err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		if f.Value.String() != "" {
			set[f.Name] = true
		}
	})
	for _, name := range required {
		if !set[name] {
			fs.Usage()
			return errHelp
		}
	}
	return nil
}

// readPassword prompts for a password; an empty one is an error.
func (cli *commandLine) readPassword(fs *flag.FlagSet, prompt string) (string, error) {
	_, _ = fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	cmdArgs := args[2:]
	switch args[1] {
	case "migrate":
		if len(cmdArgs) == 0 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(cmdArgs)
	case "adduser":
		return cli.addUserCmd(cmdArgs)
	case "resetpassword":
		return cli.resetPasswordCmd(cmdArgs)
	case "settypes":
		return cli.setTypesCmd(cmdArgs)
	case "emailuser":
		return cli.emailUserCmd(cmdArgs)
	case "addinstitute":
		return cli.addInstituteCmd(cmdArgs)
	case "renameinstitute":
		return cli.renameInstituteCmd(cmdArgs)
	case "groups":
		return cli.groupsCmd(cmdArgs)
	case "addtogroup":
		return cli.addToGroupCmd(cmdArgs)
	case "createingroup":
		return cli.createInGroupCmd(cmdArgs)
	case "setpayment":
		return cli.setPaymentCmd(cmdArgs)
	case "importusers":
		return cli.importUsersCmd(cmdArgs)
	default:
		cli.printUsage()
		return errHelp
	}
}
