package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
	emailsvc "github.com/jakariadev/institude/services/email"
	logsvc "github.com/jakariadev/institude/services/logger"
	"github.com/jakariadev/institude/storage/database"
	"github.com/jakariadev/institude/storage/database/memdb"
	sqlxrepos "github.com/jakariadev/institude/storage/database/sqlx"
)

func main() {
	os.Exit(start())
}

func start() int {
	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(logsvc.NewStdLogger("admin", conf), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	defer logger.Close()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	institute.InitValidators(validate, translator)
	user.LoadCommonPasswords(conf.WorkDir, logger)

	// set up storage
	var (
		db       *sqlx.DB
		usrRepo  user.Repository
		store    user.Store
		instRepo institute.Repository
	)
	switch conf.Storage {
	case core.StorageMemory:
		mdb, err := memdb.Open()
		if err != nil {
			logger.Error(fmt.Sprintf("opening memory database: %v", err), err)
			return 1
		}
		usrRepo = memdb.NewUserRepository(mdb)
		store = memdb.NewAccountStore(mdb)
		instRepo = memdb.NewInstituteRepository(mdb)
	default:
		var err error
		if db, err = setUpDB(conf); err != nil {
			logger.Error(fmt.Sprintf("setting up database: %v", err), err)
			return 1
		}
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("closing database", err)
			}
		}()
		usrRepo = sqlxrepos.NewUserRepository(db)
		store = sqlxrepos.NewAccountStore(db)
		instRepo = sqlxrepos.NewInstituteRepository(db)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.SendgridApiKey != "" {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	} else {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	}
	defer mailSvc.Wait()
	usrSvc, err := user.NewService(usrRepo, store, mailSvc, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up user service: %v", err), err)
		return 1
	}
	instSvc, err := institute.NewService(instRepo, usrSvc, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("setting up institute service: %v", err), err)
		return 1
	}

	// start CLI
	cli := commandLine{
		db:      db,
		usrSvc:  usrSvc,
		instSvc: instSvc,
		out:     os.Stdout,
	}
	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			_, _ = fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}

// setUpDB creates the role & database when missing, then connects as the app user.
func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	return database.Open(conf)
}
