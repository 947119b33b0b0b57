// Package security provides query and content hardening helpers
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidIdentifierRegex matches plain snake_case column names
var ValidIdentifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// ValidateIdentifier checks that a column reference is safe to interpolate
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 63 {
		return fmt.Errorf("identifier too long (max 63 characters)")
	}
	if !ValidIdentifierRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// EscapeLikePattern escapes special characters in LIKE patterns
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}

// ContainsPattern returns the lowercase %term% parameter for LikeCondition
func ContainsPattern(term string) string {
	return "%" + EscapeLikePattern(strings.ToLower(term)) + "%"
}

// LikeCondition builds a case-insensitive LIKE for one column.
// MySQL already treats backslash as the LIKE escape and rejects '\' as a literal.
func LikeCondition(dialect, column string) (string, error) {
	if err := ValidateIdentifier(column); err != nil {
		return "", err
	}
	if dialect == "mysql" {
		return fmt.Sprintf("LOWER(%s) LIKE ?", column), nil
	}
	return fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, column), nil
}

// MultiLikeCondition ORs LikeCondition over columns and returns one parameter per column
func MultiLikeCondition(dialect string, columns []string, term string) (string, []interface{}) {
	if len(columns) == 0 || strings.TrimSpace(term) == "" {
		return "", nil
	}

	param := ContainsPattern(strings.TrimSpace(term))
	conditions := make([]string, 0, len(columns))
	params := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		cond, err := LikeCondition(dialect, col)
		if err != nil {
			continue
		}
		conditions = append(conditions, cond)
		params = append(params, param)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "(" + strings.Join(conditions, " OR ") + ")", params
}
