package user

import (
	"time"

	"github.com/jakariadev/institude/core"
)

// Extension holds the role specific attributes of a User for one Type.
// There is at most one Extension per (user, type); it is never deleted, only deactivated.
type Extension struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      Type      `json:"type"`
	IsActive  bool      `json:"is_active"`
	Details   Details   `json:"details"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Details is the union of the role specific attributes; only the fields of Extension.Type are meaningful.
type Details struct {
	// Controller, Teacher, Employee
	Designation string `json:"designation,omitempty" validate:"max=100"`

	// Teacher
	ExpertIn        string `json:"expert_in,omitempty" validate:"max=50"`
	LastInstitution string `json:"last_institution,omitempty" validate:"max=50"`
	Resume          string `json:"resume,omitempty"` // document reference

	// Student
	Level                string `json:"level,omitempty" validate:"max=50"`
	CurrentInstitution   string `json:"current_institution,omitempty" validate:"max=100"`
	FatherName           string `json:"father_name,omitempty" validate:"max=50"`
	MotherName           string `json:"mother_name,omitempty" validate:"max=50"`
	FatherOccupation     string `json:"father_occupation,omitempty" validate:"max=50"`
	MotherOccupation     string `json:"mother_occupation,omitempty" validate:"max=50"`
	Guardian             string `json:"guardian,omitempty" validate:"max=50"`
	GuardianRelationship string `json:"guardian_relationship,omitempty" validate:"max=50"`

	// Guardian
	Occupation   string  `json:"occupation,omitempty" validate:"max=100"`
	YearlyIncome float64 `json:"yearly_income,omitempty" validate:"gte=0"`
}

// DetailFields lists the Details attributes (by json name) that belong to each Type.
var DetailFields = map[Type][]string{
	TypeController: {"designation"},
	TypeTeacher:    {"designation", "expert_in", "last_institution", "resume"},
	TypeStudent: {
		"level", "current_institution", "father_name", "mother_name",
		"father_occupation", "mother_occupation", "guardian", "guardian_relationship",
	},
	TypeGuardian: {"occupation", "yearly_income"},
	TypeEmployee: {"designation"},
}

// ForType returns a copy of `d` with only the attributes of `t` set.
func (d Details) ForType(t Type) Details {
	var out Details
	for _, fld := range DetailFields[t] {
		switch fld {
		case "designation":
			out.Designation = d.Designation
		case "expert_in":
			out.ExpertIn = d.ExpertIn
		case "last_institution":
			out.LastInstitution = d.LastInstitution
		case "resume":
			out.Resume = d.Resume
		case "level":
			out.Level = d.Level
		case "current_institution":
			out.CurrentInstitution = d.CurrentInstitution
		case "father_name":
			out.FatherName = d.FatherName
		case "mother_name":
			out.MotherName = d.MotherName
		case "father_occupation":
			out.FatherOccupation = d.FatherOccupation
		case "mother_occupation":
			out.MotherOccupation = d.MotherOccupation
		case "guardian":
			out.Guardian = d.Guardian
		case "guardian_relationship":
			out.GuardianRelationship = d.GuardianRelationship
		case "occupation":
			out.Occupation = d.Occupation
		case "yearly_income":
			out.YearlyIncome = d.YearlyIncome
		}
	}
	return out
}

type ExtensionFilter struct {
	UserID   string
	Types    []Type
	IsActive *bool
}

type Address struct {
	Line1       string  `json:"address_line_1,omitempty" validate:"max=255"`
	Line2       string  `json:"address_line_2,omitempty" validate:"max=255"`
	City        string  `json:"city,omitempty" validate:"max=255"`
	PostalCode  string  `json:"postal_code,omitempty" validate:"max=25"`
	State       string  `json:"state,omitempty" validate:"max=255"`
	Country     string  `json:"country,omitempty" validate:"max=255"`
	Geolocation float64 `json:"geolocation,omitempty"`
}

func (a *Address) IsZero() bool { return a == nil || *a == Address{} }

type Education struct {
	InstitutionName     string  `json:"institution_name,omitempty" validate:"max=255"`
	Degree              string  `json:"degree,omitempty" validate:"max=255"`
	City                string  `json:"city,omitempty" validate:"max=255"`
	FieldOfStudy        string  `json:"field_of_study,omitempty" validate:"max=25"`
	Grade               float64 `json:"grade,omitempty"`
	ActivitiesSocieties string  `json:"activities_societies,omitempty" validate:"max=255"`
	StartYear           int     `json:"start_year,omitempty" validate:"omitempty,eduyear"`
	EndYear             int     `json:"end_year,omitempty" validate:"omitempty,eduyear,gtefield=StartYear"`
	Description         string  `json:"description,omitempty" validate:"max=255"`
}

func (e *Education) IsZero() bool { return e == nil || *e == Education{} }

// Profile is the single auxiliary record every User gets at creation.
type Profile struct {
	ID                      string     `json:"id"`
	UserID                  string     `json:"user_id"`
	Bio                     string     `json:"bio"`
	BirthDate               time.Time  `json:"birth_date"`
	BloodGroup              string     `json:"blood_group"`
	Religion                string     `json:"religion"`
	NID                     string     `json:"nid"`
	About                   string     `json:"about"`
	BirthRegistrationNumber string     `json:"birth_registration_number"`
	PresentAddress          *Address   `json:"present_address"`
	PermanentAddress        *Address   `json:"permanent_address"`
	Education               *Education `json:"education"`
	ContactPhones           []string   `json:"contact_phones"`
	ContactEmails           []string   `json:"contact_emails"`
}

// IsFullyFilled reports whether every profile attribute is set.
func (p *Profile) IsFullyFilled() bool {
	return p.Bio != "" &&
		!p.BirthDate.IsZero() &&
		p.BloodGroup != "" &&
		p.Religion != "" &&
		p.NID != "" &&
		p.About != "" &&
		p.BirthRegistrationNumber != "" &&
		!p.PresentAddress.IsZero() &&
		!p.PermanentAddress.IsZero() &&
		!p.Education.IsZero() &&
		len(p.ContactPhones) > 0 &&
		len(p.ContactEmails) > 0
}

// UpdateProfile defines what information may be provided to modify a Profile. Nil fields are left untouched.
type UpdateProfile struct {
	Bio                     *string    `json:"bio"`
	BirthDate               *time.Time `json:"birth_date"`
	BloodGroup              *string    `json:"blood_group" validate:"omitempty,max=10"`
	Religion                *string    `json:"religion" validate:"omitempty,max=100"`
	NID                     *string    `json:"nid" validate:"omitempty,max=50"`
	About                   *string    `json:"about" validate:"omitempty,max=100"`
	BirthRegistrationNumber *string    `json:"birth_registration_number" validate:"omitempty,max=50"`
	PresentAddress          *Address   `json:"present_address"`
	PermanentAddress        *Address   `json:"permanent_address"`
	Education               *Education `json:"education"`
	ContactPhones           []string   `json:"contact_phones" validate:"omitempty,dive,max=200"`
	ContactEmails           []string   `json:"contact_emails" validate:"omitempty,dive,max=200,email"`
}

func (up UpdateProfile) apply(p *Profile) {
	if up.Bio != nil {
		p.Bio = *up.Bio
	}
	if up.BirthDate != nil {
		p.BirthDate = up.BirthDate.UTC()
	}
	if up.BloodGroup != nil {
		p.BloodGroup = *up.BloodGroup
	}
	if up.Religion != nil {
		p.Religion = *up.Religion
	}
	if up.NID != nil {
		p.NID = *up.NID
	}
	if up.About != nil {
		p.About = *up.About
	}
	if up.BirthRegistrationNumber != nil {
		p.BirthRegistrationNumber = *up.BirthRegistrationNumber
	}
	if up.PresentAddress != nil {
		p.PresentAddress = up.PresentAddress
	}
	if up.PermanentAddress != nil {
		p.PermanentAddress = up.PermanentAddress
	}
	if up.Education != nil {
		p.Education = up.Education
	}
	if up.ContactPhones != nil {
		p.ContactPhones = core.CleanStrings(up.ContactPhones)
	}
	if up.ContactEmails != nil {
		p.ContactEmails = core.CleanStrings(up.ContactEmails, true /* lower */)
	}
}
