package user

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jakariadev/institude/core"
)

// Sexes
const (
	SexMale    = "M"
	SexFemale  = "F"
	SexOther   = "O"
	SexPrivate = "P"
)

var Sexes = []string{SexMale, SexFemale, SexOther, SexPrivate}

type User struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	Phone             string    `json:"phone"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	Sex               string    `json:"sex"`
	Types             []Type    `json:"types"`
	IsStaff           bool      `json:"is_staff"`
	IsActive          bool      `json:"is_active"`
	IsPhoneVerified   bool      `json:"is_phone_verified"`
	IsEmailVerified   bool      `json:"is_email_verified"`
	IsAccountVerified bool      `json:"is_account_verified"`
	PasswordHash      []byte    `json:"-"`
	CreatedAt         time.Time `json:"created_at"` // UTC
	UpdatedAt         time.Time `json:"updated_at"` // UTC
	LastLogin         time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) HasType(t Type) bool {
	for _, ut := range u.Types {
		if ut == t {
			return true
		}
	}
	return false
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Username        string `json:"username" validate:"required,max=150,username"`
	Email           string `json:"email" validate:"omitempty,email"`
	Phone           string `json:"phone" validate:"omitempty,e164"`
	FirstName       string `json:"first_name" validate:"max=150"`
	LastName        string `json:"last_name" validate:"max=150"`
	Sex             string `json:"sex" validate:"omitempty,sex"`
	Types           []Type `json:"types" validate:"alltypes"`
	IsStaff         bool   `json:"is_staff"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (nu *NewUser) clean() {
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Phone = core.CleanString(nu.Phone)
	nu.FirstName = core.CleanString(nu.FirstName)
	nu.LastName = core.CleanString(nu.LastName)
	nu.Sex = strings.ToUpper(core.CleanString(nu.Sex))
	if nu.Sex == "" {
		nu.Sex = SexPrivate
	}
}

func (nu *NewUser) Validate(ctx context.Context, svc *Service) error {
	nu.clean()
	if err := core.ValidateStruct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, nu.Username, nu.Email, nu.Phone)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Nil fields are left untouched.
type UpdateUser struct {
	Username        *string `json:"username" validate:"omitempty,max=150,username"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Phone           *string `json:"phone" validate:"omitempty,e164"`
	FirstName       *string `json:"first_name" validate:"omitempty,max=150"`
	LastName        *string `json:"last_name" validate:"omitempty,max=150"`
	Sex             *string `json:"sex" validate:"omitempty,sex"`
	Types           *[]Type `json:"types" validate:"omitempty,alltypes"`
	IsStaff         *bool   `json:"is_staff"`
	IsActive        *bool   `json:"is_active"`
	Password        string  `json:"password" validate:"omitempty"`
	PasswordConfirm string  `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func cleanPtr(s *string, lower ...bool) *string {
	if s == nil {
		return nil
	}
	cleaned := core.CleanString(*s, lower...)
	return &cleaned
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, svc *Service) error {
	uu.Username = cleanPtr(uu.Username, true /* lower */)
	uu.Email = cleanPtr(uu.Email, true /* lower */)
	uu.Phone = cleanPtr(uu.Phone)
	uu.FirstName = cleanPtr(uu.FirstName)
	uu.LastName = cleanPtr(uu.LastName)
	if uu.Sex != nil {
		sex := strings.ToUpper(core.CleanString(*uu.Sex))
		uu.Sex = &sex
	}
	if uu.Username != nil && *uu.Username == "" {
		uu.Username = nil
	}

	if err := core.ValidateStruct(uu); err != nil {
		return err
	}

	uname, email, phone := origUsr.Username, origUsr.Email, origUsr.Phone
	if uu.Username != nil {
		uname = *uu.Username
	}
	if uu.Email != nil {
		email = *uu.Email
	}
	if uu.Phone != nil {
		phone = *uu.Phone
	}
	return svc.checkUniqueness(ctx, uname, email, phone, origUsr)
}

// apply copies the set fields of `uu` onto `usr`.
func (uu UpdateUser) apply(usr *User) {
	if uu.Username != nil {
		usr.Username = *uu.Username
	}
	if uu.Email != nil {
		usr.Email = *uu.Email
	}
	if uu.Phone != nil {
		usr.Phone = *uu.Phone
	}
	if uu.FirstName != nil {
		usr.FirstName = *uu.FirstName
	}
	if uu.LastName != nil {
		usr.LastName = *uu.LastName
	}
	if uu.Sex != nil && *uu.Sex != "" {
		usr.Sex = *uu.Sex
	}
	if uu.Types != nil {
		usr.Types = NormalizeTypes(*uu.Types)
	}
	if uu.IsStaff != nil {
		usr.IsStaff = *uu.IsStaff
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
}

type QueryFilter struct {
	Search      string
	Types       []Type // users holding any of these types
	IsActive    *bool
	CreatedFrom time.Time
	CreatedTo   time.Time
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && len(qf.Types) == 0 && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	if qf.Types != nil {
		qf.Types = NormalizeTypes(qf.Types)
	}
}

type GetFilter struct {
	ID              string
	Username        string
	Email           string
	UsernameOrEmail string
}
