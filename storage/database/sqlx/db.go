package sqlxrepos

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/jakariadev/institude/core"
)

// postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// pqError returns the postgres error wrapped in `err`, if any.
func pqError(err error) *pq.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	pqErr := pqError(err)
	return pqErr != nil && string(pqErr.Code) == uniqueViolation &&
		(constraint == "" || pqErr.Constraint == constraint)
}

func isForeignKeyViolation(err error) bool {
	pqErr := pqError(err)
	return pqErr != nil && string(pqErr.Code) == foreignKeyViolation
}

// validIDs drops the IDs postgres would reject as malformed uuids; they cannot match any row.
func validIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	return valid
}

func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// orderBy renders `ordering` restricted to `columns`, or `def` when nothing usable is left.
func orderBy(ordering []core.DBOrdering, columns map[string]string, def string) []string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := columns[strings.ToLower(ord.Field)]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		return []string{def}
	}
	return clauses
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
