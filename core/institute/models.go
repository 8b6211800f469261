package institute

import (
	"strings"
	"time"

	"github.com/jakariadev/institude/core"
	"github.com/jakariadev/institude/core/user"
)

// Categories
const (
	CategoryPlay           = "play"
	CategoryNursary        = "nursary"
	CategoryPracPrimary    = "prac-primary"
	CategoryPrimary        = "primary"
	CategoryHighSchool     = "High school"
	CategoryCollege        = "College"
	CategoryUniversity     = "University"
	CategoryCadet          = "cadet"
	CategoryMadrasha       = "madrasha"
	CategoryPhD            = "PhD"
	CategoryCoachingCentre = "Coaching_centre"
)

var Categories = []string{
	CategoryPlay, CategoryNursary, CategoryPracPrimary, CategoryPrimary, CategoryHighSchool, CategoryCollege,
	CategoryUniversity, CategoryCadet, CategoryMadrasha, CategoryPhD, CategoryCoachingCentre,
}

type Institute struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	EIIN            string        `json:"eiin"`
	Name            string        `json:"name"`
	Address         *user.Address `json:"address"`
	Category        string        `json:"category"`
	ContactPhones   string        `json:"contact_phones"`
	ContactEmails   string        `json:"contact_emails"`
	ContactOthers   string        `json:"contact_others"`
	Description     string        `json:"description"`
	EstablishedDate time.Time     `json:"established_date"`
	CreatedAt       time.Time     `json:"created_at"` // UTC
	UpdatedAt       time.Time     `json:"updated_at"` // UTC
}

// GroupKind is the audience of one of the groups every Institute gets.
type GroupKind string

// Group kinds; the value is the suffix of the group name.
const (
	GroupStudents   GroupKind = "students"
	GroupTeachers   GroupKind = "teachers"
	GroupController GroupKind = "controller"
	GroupEmployees  GroupKind = "employees"
	GroupGuardians  GroupKind = "guardians"
)

var GroupKinds = []GroupKind{GroupStudents, GroupTeachers, GroupController, GroupEmployees, GroupGuardians}

// GroupName returns the name of the `kind` group of an institute: "<name>_<id>_<kind>".
func GroupName(instName, instID string, kind GroupKind) string {
	return instName + "_" + instID + "_" + string(kind)
}

type Group struct {
	ID          string    `json:"id"`
	InstituteID string    `json:"institute_id"`
	Kind        GroupKind `json:"kind"`
	Name        string    `json:"name"`
}

type PaymentStatus struct {
	UserID        string    `json:"user_id"`
	Amount        float64   `json:"amount"`
	DurationMonth int       `json:"duration_month"`
	Status        bool      `json:"status"`
	Count         int       `json:"count"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// Dashboard is what an owner sees first: whether they may create institutes, and the ones they own.
type Dashboard struct {
	PaymentActive bool        `json:"payment_active"`
	Institutes    []Institute `json:"institutes"`
}

// NewInstitute contains information needed to create a new Institute.
type NewInstitute struct {
	EIIN            string        `json:"eiin" validate:"omitempty,max=50,alphanum_"`
	Name            string        `json:"name" validate:"required,max=100"`
	Address         *user.Address `json:"address"`
	Category        string        `json:"category" validate:"required,category"`
	ContactPhones   string        `json:"contact_phones" validate:"required,max=100"`
	ContactEmails   string        `json:"contact_emails" validate:"required,email"`
	ContactOthers   string        `json:"contact_others" validate:"max=100"`
	Description     string        `json:"description"`
	EstablishedDate time.Time     `json:"established_date" validate:"required"`
}

func (ni *NewInstitute) Validate() error {
	ni.EIIN = core.CleanString(ni.EIIN)
	ni.Name = core.CleanString(ni.Name)
	ni.Category = core.CleanString(ni.Category)
	ni.ContactPhones = core.CleanString(ni.ContactPhones)
	ni.ContactEmails = core.CleanString(ni.ContactEmails, true /* lower */)
	ni.ContactOthers = core.CleanString(ni.ContactOthers)
	ni.Description = strings.TrimSpace(ni.Description)
	return core.ValidateStruct(ni)
}

// UpdateInstitute defines what information may be provided to modify an existing Institute.
// Nil fields are left untouched.
type UpdateInstitute struct {
	EIIN            *string       `json:"eiin" validate:"omitempty,max=50,alphanum_"`
	Name            *string       `json:"name" validate:"omitempty,max=100"`
	Address         *user.Address `json:"address"`
	Category        *string       `json:"category" validate:"omitempty,category"`
	ContactPhones   *string       `json:"contact_phones" validate:"omitempty,max=100"`
	ContactEmails   *string       `json:"contact_emails" validate:"omitempty,email"`
	ContactOthers   *string       `json:"contact_others" validate:"omitempty,max=100"`
	Description     *string       `json:"description"`
	EstablishedDate *time.Time    `json:"established_date"`
}

func (ui *UpdateInstitute) Validate() error {
	if ui.Name != nil {
		name := core.CleanString(*ui.Name)
		if name == "" {
			ui.Name = nil
		} else {
			ui.Name = &name
		}
	}
	return core.ValidateStruct(ui)
}

func (ui UpdateInstitute) apply(inst *Institute) {
	if ui.EIIN != nil {
		inst.EIIN = core.CleanString(*ui.EIIN)
	}
	if ui.Name != nil {
		inst.Name = *ui.Name
	}
	if ui.Address != nil {
		inst.Address = ui.Address
	}
	if ui.Category != nil {
		inst.Category = core.CleanString(*ui.Category)
	}
	if ui.ContactPhones != nil {
		inst.ContactPhones = core.CleanString(*ui.ContactPhones)
	}
	if ui.ContactEmails != nil {
		inst.ContactEmails = core.CleanString(*ui.ContactEmails, true /* lower */)
	}
	if ui.ContactOthers != nil {
		inst.ContactOthers = core.CleanString(*ui.ContactOthers)
	}
	if ui.Description != nil {
		inst.Description = strings.TrimSpace(*ui.Description)
	}
	if ui.EstablishedDate != nil {
		inst.EstablishedDate = ui.EstablishedDate.UTC()
	}
}

// UpdatePayment records a payment of a user.
type UpdatePayment struct {
	Amount        float64 `json:"amount" validate:"gte=0"`
	DurationMonth int     `json:"duration_month" validate:"gte=0"`
	Status        bool    `json:"status"`
}

type QueryFilter struct {
	OwnerID  string
	Search   string
	Category string
}
