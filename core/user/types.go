package user

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is a role type a User may hold. Persisted as a smallint.
type Type int16

// Types
const (
	TypeController Type = iota + 1
	TypeTeacher
	TypeStudent
	TypeGuardian
	TypeEmployee
)

// AllTypes lists every valid Type in canonical order.
// Adding a role type only takes a new constant here, a typeInfo entry and its extension details.
var AllTypes = []Type{TypeController, TypeTeacher, TypeStudent, TypeGuardian, TypeEmployee}

var ErrInvalidType = errors.New("invalid user type")

type typeInfo struct {
	name string
	slug string
}

var typeInfos = map[Type]typeInfo{
	TypeController: {name: "Controller", slug: "controller"},
	TypeTeacher:    {name: "Teacher", slug: "teacher"},
	TypeStudent:    {name: "Student", slug: "student"},
	TypeGuardian:   {name: "Guardian", slug: "guardian"},
	TypeEmployee:   {name: "Employee", slug: "employee"},
}

func (t Type) IsValid() bool {
	_, ok := typeInfos[t]
	return ok
}

func (t Type) String() string {
	if info, ok := typeInfos[t]; ok {
		return info.name
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Slug is the lowercase identifier used in CLI flags, spreadsheets and table names.
func (t Type) Slug() string {
	return typeInfos[t].slug
}

// ParseType accepts a slug, a display name or the numeric value.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if t := Type(n); t.IsValid() {
			return t, nil
		}
		return 0, errors.Wrapf(ErrInvalidType, "%q", s)
	}
	for t, info := range typeInfos {
		if s == info.slug || s == strings.ToLower(info.name) {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidType, "%q", s)
}

// ParseTypes parses a comma separated list of types.
func ParseTypes(s string) ([]Type, error) {
	var types []Type
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// NormalizeTypes deduplicates `types`, drops invalid values and sorts the result.
// A valid `proxy` type (the implicit type of a role-specific creation context) is added to the set.
func NormalizeTypes(types []Type, proxy ...Type) []Type {
	set := make(map[Type]struct{}, len(types)+len(proxy))
	for _, t := range types {
		if t.IsValid() {
			set[t] = struct{}{}
		}
	}
	for _, t := range proxy {
		if t.IsValid() {
			set[t] = struct{}{}
		}
	}
	normalized := make([]Type, 0, len(set))
	for t := range set {
		normalized = append(normalized, t)
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i] < normalized[j] })
	return normalized
}

// DiffTypes returns the types present in curr but not in prev (added), and the other way around (removed).
// Both results are sorted; types present in both sets appear in neither.
func DiffTypes(prev, curr []Type) (added, removed []Type) {
	prevSet := typeSet(prev)
	currSet := typeSet(curr)
	for _, t := range NormalizeTypes(curr) {
		if _, ok := prevSet[t]; !ok {
			added = append(added, t)
		}
	}
	for _, t := range NormalizeTypes(prev) {
		if _, ok := currSet[t]; !ok {
			removed = append(removed, t)
		}
	}
	return added, removed
}

// EqualTypes reports whether both slices hold the same set of types.
func EqualTypes(a, b []Type) bool {
	added, removed := DiffTypes(a, b)
	return len(added) == 0 && len(removed) == 0
}

func typeSet(types []Type) map[Type]struct{} {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
