package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/institute"
	"github.com/jakariadev/institude/core/user"
	emailsvc "github.com/jakariadev/institude/services/email"
	"github.com/jakariadev/institude/storage/database/memdb"
)

// StrongPassword satisfies the password policy.
const StrongPassword = "Gr@pe-Juice-42"

var initOnce sync.Once

// InitValidators sets up the validators of every package, once per test binary.
func InitValidators() {
	initOnce.Do(func() {
		validate := validator.New()
		translator := core.NewTranslator()
		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)
		institute.InitValidators(validate, translator)
		user.LoadCommonPasswords(core.Getwd(), NewLoggerMock())
	})
}

// LogEntry is a message recorded by LoggerMock.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// LoggerMock is a core.Logger keeping what it is given.
type LoggerMock struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*LoggerMock)(nil)

func NewLoggerMock() *LoggerMock {
	return &LoggerMock{}
}

func (l *LoggerMock) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *LoggerMock) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *LoggerMock) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *LoggerMock) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *LoggerMock) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *LoggerMock) Fatal(msg string, args ...interface{}) {
	l.log("fatal", msg, args)
	panic(fmt.Sprintf("fatal: %s", msg))
}

// Entries returns the recorded entries of `level`, or all of them when `level` is empty.
func (l *LoggerMock) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

// Env holds the services of a test, all backed by one in-memory database.
type Env struct {
	DB       *memdb.DB
	UsrRepo  user.Repository
	Store    user.Store
	InstRepo institute.Repository
	Mail     *emailsvc.ConsoleServiceMock
	Logger   *LoggerMock
	UsrSvc   *user.Service
	InstSvc  *institute.Service
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	InitValidators()

	db, err := memdb.Open()
	require.NoError(t, err)

	env := &Env{
		DB:       db,
		UsrRepo:  memdb.NewUserRepository(db),
		Store:    memdb.NewAccountStore(db),
		InstRepo: memdb.NewInstituteRepository(db),
		Mail:     emailsvc.NewConsoleServiceMock(),
		Logger:   NewLoggerMock(),
	}
	env.UsrSvc, err = user.NewService(env.UsrRepo, env.Store, env.Mail, env.Logger)
	require.NoError(t, err)
	env.InstSvc, err = institute.NewService(env.InstRepo, env.UsrSvc, env.Logger)
	require.NoError(t, err)
	return env
}

// CreateUser stores a user directly through the repository, bypassing validation and reconciliation.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	firstName, uname, email, pwd string,
	types []user.Type,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		FirstName: firstName,
		Username:  uname,
		Email:     email,
		Sex:       user.SexPrivate,
		Types:     types,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		require.NoError(t, usr.SetPassword(pwd), "createUser()")
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	require.NoError(t, err, "createUser()")
	return usr
}

// NewUser returns a valid user.NewUser named `uname`, with an email derived from it.
func NewUser(uname string, types ...user.Type) user.NewUser {
	return user.NewUser{
		Username:        uname,
		Email:           uname + "@test.cd",
		FirstName:       "Test",
		Types:           types,
		Password:        StrongPassword,
		PasswordConfirm: StrongPassword,
	}
}

// CreateUser creates a user through the user service, reconciliation included.
func (env *Env) CreateUser(t *testing.T, uname string, types ...user.Type) user.User {
	t.Helper()
	usr, err := env.UsrSvc.Create(context.Background(), NewUser(uname, types...))
	require.NoError(t, err, "UsrSvc.Create()")
	return usr
}

// CreateInstitute records an active payment of `owner` and creates an institute they own.
func (env *Env) CreateInstitute(t *testing.T, owner user.User, name string) institute.Institute {
	t.Helper()
	ctx := context.Background()
	_, err := env.InstSvc.SetPaymentStatus(ctx, owner.ID, institute.UpdatePayment{Amount: 100, DurationMonth: 12, Status: true})
	require.NoError(t, err, "InstSvc.SetPaymentStatus()")
	inst, err := env.InstSvc.Create(ctx, owner, institute.NewInstitute{
		Name:            name,
		Category:        institute.CategoryPrimary,
		ContactPhones:   "+8801700000000",
		ContactEmails:   "office@school.test",
		EstablishedDate: time.Date(2001, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err, "InstSvc.Create()")
	return inst
}

// Group returns the `kind` group of the institute `instID`.
func (env *Env) Group(t *testing.T, instID string, kind institute.GroupKind) institute.Group {
	t.Helper()
	groups, err := env.InstSvc.Groups(context.Background(), instID)
	require.NoError(t, err, "InstSvc.Groups()")
	for _, grp := range groups {
		if grp.Kind == kind {
			return grp
		}
	}
	t.Fatalf("no %s group in institute %s", kind, instID)
	return institute.Group{}
}
