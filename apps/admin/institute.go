package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core/institute"
)

const dateLayout = "2006-01-02"

func (cli *commandLine) addInstituteCmd(args []string) error {
	fs := cli.newFlagSet("addinstitute")
	owner := fs.String("owner", "", "The owner's username or email. The owner must have an active payment.")
	name := fs.String("name", "", "The institute name.")
	category := fs.String("category", "", "The institute category: "+strings.Join(institute.Categories, ", ")+".")
	eiin := fs.String("eiin", "", "The Educational Institute Identification Number.")
	phones := fs.String("phones", "", "The contact phone numbers.")
	email := fs.String("email", "", "The contact email.")
	others := fs.String("others", "", "Other contacts.")
	description := fs.String("description", "", "The institute description.")
	established := fs.String("established", "", "The establishment date, YYYY-MM-DD.")
	if err := parse(fs, args, "owner", "name", "category", "phones", "email", "established"); err != nil {
		return err
	}
	estDate, err := time.Parse(dateLayout, *established)
	if err != nil {
		return errors.Wrap(err, "parsing establishment date")
	}
	return cli.addInstitute(*owner, institute.NewInstitute{
		EIIN:            *eiin,
		Name:            *name,
		Category:        *category,
		ContactPhones:   *phones,
		ContactEmails:   *email,
		ContactOthers:   *others,
		Description:     *description,
		EstablishedDate: estDate,
	})
}

func (cli *commandLine) addInstitute(owner string, ni institute.NewInstitute) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, owner)
	if err != nil {
		return err
	}
	inst, err := cli.instSvc.Create(ctx, usr, ni)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "institute %q created (id: %s)\n", inst.Name, inst.ID)
	return cli.printGroups(ctx, inst.ID)
}

func (cli *commandLine) renameInstituteCmd(args []string) error {
	fs := cli.newFlagSet("renameinstitute")
	id := fs.String("id", "", "The institute ID.")
	name := fs.String("name", "", "The new institute name.")
	if err := parse(fs, args, "id", "name"); err != nil {
		return err
	}
	return cli.renameInstitute(*id, *name)
}

func (cli *commandLine) renameInstitute(id, name string) error {
	ctx := context.Background()
	inst, err := cli.instSvc.Update(ctx, id, institute.UpdateInstitute{Name: &name})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "institute %s renamed to %q\n", inst.ID, inst.Name)
	return cli.printGroups(ctx, inst.ID)
}

func (cli *commandLine) groupsCmd(args []string) error {
	fs := cli.newFlagSet("groups")
	id := fs.String("institute", "", "The institute ID.")
	if err := parse(fs, args, "institute"); err != nil {
		return err
	}
	return cli.printGroups(context.Background(), *id)
}

func (cli *commandLine) printGroups(ctx context.Context, instituteID string) error {
	groups, err := cli.instSvc.Groups(ctx, instituteID)
	if err != nil {
		return err
	}
	for _, grp := range groups {
		_, _ = fmt.Fprintf(cli.out, "%s\t%s\t%s\n", grp.ID, grp.Kind, grp.Name)
	}
	return nil
}

func (cli *commandLine) setPaymentCmd(args []string) error {
	fs := cli.newFlagSet("setpayment")
	uname := fs.String("username", "", "The user's username or email.")
	amount := fs.Float64("amount", 0, "The amount paid.")
	months := fs.Int("months", 0, "The number of months paid for.")
	active := fs.Bool("active", true, "Whether the payment lets the user create institutes.")
	if err := parse(fs, args, "username"); err != nil {
		return err
	}
	return cli.setPayment(*uname, institute.UpdatePayment{Amount: *amount, DurationMonth: *months, Status: *active})
}

func (cli *commandLine) setPayment(uname string, up institute.UpdatePayment) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	ps, err := cli.instSvc.SetPaymentStatus(ctx, usr.ID, up)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "payment of %s recorded (active: %t, payments: %d)\n", usr.Username, ps.Status, ps.Count)
	return nil
}
