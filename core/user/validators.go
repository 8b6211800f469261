package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/jakariadev/institude/core"
)

var (
	allTypesTag  = "alltypes"
	allTypesText = "invalid user types"

	sexTag  = "sex"
	sexText = "sex must be one of M, F, O or P"

	eduYearTag   = "eduyear"
	eduYearText  = "year must be between 1984 and the current year"
	eduYearFirst = 1984

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "password must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to user attributes"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"

	commonPasswords   []string
	commonPasswordsMu sync.RWMutex
)

// InitValidators registers the user validators. core.InitValidators must be called first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(allTypesTag, allTypesValidation)
	core.RegisterCustomTranslation(validate, translator, allTypesTag, allTypesText)

	_ = validate.RegisterValidation(sexTag, sexValidation)
	core.RegisterCustomTranslation(validate, translator, sexTag, sexText)

	_ = validate.RegisterValidation(eduYearTag, eduYearValidation)
	core.RegisterCustomTranslation(validate, translator, eduYearTag, eduYearText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}

// LoadCommonPasswords loads the gzipped common passwords list, one password per line.
func LoadCommonPasswords(workDir string, logger core.Logger) {
	pwdAssetPath := filepath.Join(workDir, "assets", "common-passwords.txt.gz")
	pwds, err := readCommonPasswords(pwdAssetPath)
	if err != nil {
		logger.Warn(fmt.Sprintf("loading common passwords: %v", err), err)
		return
	}
	sort.Strings(pwds)

	commonPasswordsMu.Lock()
	commonPasswords = pwds
	commonPasswordsMu.Unlock()
}

func readCommonPasswords(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening common passwords")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	gzRdr, err := gzip.NewReader(file)
	if err != nil {
		return nil, errors.Wrap(err, "reading common passwords")
	}
	pwds := make([]string, 0, 1024)
	scanner := bufio.NewScanner(gzRdr)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			pwds = append(pwds, strings.ToLower(pwd))
		}
	}
	return pwds, errors.Wrap(scanner.Err(), "scanning common passwords")
}

func isCommonPassword(pwd string) bool {
	commonPasswordsMu.RLock()
	defer commonPasswordsMu.RUnlock()

	lpwd := strings.ToLower(pwd)
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}

// ValidateTypes fails with a ValidationError on the "types" field if any type is outside the enumeration.
func ValidateTypes(types []Type) error {
	for _, t := range types {
		if !t.IsValid() {
			err := errors.Wrapf(ErrInvalidType, "%d", t)
			return core.NewValidationError(err, core.FieldError{Field: "types", Error: allTypesText})
		}
	}
	return nil
}

// Custom Validators

// allTypesValidation checks that the provided user types are all in AllTypes.
func allTypesValidation(fl validator.FieldLevel) bool {
	var types []Type
	switch v := fl.Field().Interface().(type) {
	case []Type:
		types = v
	case *[]Type:
		if v == nil {
			return true
		}
		types = *v
	default:
		return false
	}
	return ValidateTypes(types) == nil
}

func sexValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, sex := range Sexes {
		if val == sex {
			return true
		}
	}
	return false
}

func eduYearValidation(fl validator.FieldLevel) bool {
	year := int(fl.Field().Int())
	return year >= eduYearFirst && year <= time.Now().Year()
}

// userStructValidation does struct level validation on NewUser and UpdateUser structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validatePassword(usr.Password, sl, usr.FirstName+" "+usr.LastName, usr.Username, usr.Email)
	case UpdateUser:
		if usr.Password != "" {
			var attrs []string
			for _, attr := range []*string{usr.FirstName, usr.LastName, usr.Username, usr.Email} {
				if attr != nil {
					attrs = append(attrs, *attr)
				}
			}
			validatePassword(usr.Password, sl, attrs...)
		}
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(pwd string, sl validator.StructLevel, usrAttrs ...string) {
	reportErr := func(tag string) {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}

	var (
		digitCount         int
		hasUpper, hasLower bool
	)

	// - minLen: 8
	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		reportErr(pwdMinLenTag)
		return
	}
	for _, char := range pwd {
		// - no whitespace
		if unicode.IsSpace(char) {
			reportErr(pwdNoSpaceTag)
			return
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	// - not all numeric
	if digitCount == pwdLen {
		reportErr(pwdNotAllNumTag)
		return
	}

	// - complexity: 1 upper, 1 lower, 1 digit & 1 special
	if !(hasUpper && hasLower && digitCount > 0 && specialRegex.MatchString(pwd)) {
		reportErr(pwdComplexityTag)
		return
	}

	// - no user attrs similarity
	for _, attr := range usrAttrs {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		ratio := difflib.NewMatcher(strings.Split(pwd, ""), strings.Split(attr, "")).QuickRatio()
		if ratio >= pwdMaxSim {
			reportErr(pwdAttrSimTag)
			return
		}
	}

	// - no common passwords
	if isCommonPassword(pwd) {
		reportErr(pwdNoCommonTag)
	}
}
