// Package lookup implements the Lookup Engine: resolving a set of DICOM
// tag constraints, scattered across resource levels, into the public ids
// of matching resources at a caller-chosen query level. It narrows
// candidates level by level from the shallowest constrained level down to
// the deepest, then climbs back (or descends further) to the query
// level — the same strategy the reference query planner uses to avoid a
// full cross join across four tables.
package lookup

import (
	"fmt"
	"strings"

	"github.com/orthancore/indexcore/internal/dicomnorm"
	"github.com/orthancore/indexcore/internal/model"
)

// Operator is how a constraint's value(s) are compared against a
// projected tag value.
type Operator int

const (
	// OpEqual matches the projected value exactly (case-sensitive unless
	// the constraint's CaseSensitive is false).
	OpEqual Operator = iota
	// OpRange matches projected values in [Value, RangeEnd] inclusive,
	// the DICOM date/time range-query convention.
	OpRange
	// OpWildcard matches using DICOM wildcards: '*' (any run of
	// characters) and '?' (exactly one character).
	OpWildcard
	// OpSetMembership matches if the projected value equals any entry in
	// Values, the DICOM "\"-separated value-list convention.
	OpSetMembership
	// OpFuzzy approximately matches Value against the projected value
	// (subsequence or short edit distance), for person-name searches that
	// tolerate misspellings. It cannot be expressed as a SQL predicate
	// and is applied as a post-filter, never pushed into buildCondition.
	OpFuzzy
)

// DatabaseConstraint is one predicate in a lookup: "the tag Tag at level
// Level must satisfy Operator against Value/RangeEnd/Values".
//
// CaseSensitive governs equality, range and wildcard matching against
// MainDicomTags values (the spec default is case-sensitive). It has no
// effect on identifier tags, which are always compared through their
// write-time dicomnorm normalization regardless of this flag.
//
// Mandatory governs whether a resource that simply has no value recorded
// for Tag is excluded. A mandatory constraint behaves like a plain SQL
// AND: no row for the tag means no match. An optional (Mandatory: false)
// constraint only excludes a resource that carries the tag and fails to
// match it — a resource missing the tag entirely passes through
// untouched, the DICOM "universal matching on an absent optional key"
// convention.
type DatabaseConstraint struct {
	Level         model.ResourceLevel
	Tag           model.DicomTag
	Operator      Operator
	Value         string
	RangeEnd      string
	Values        []string
	CaseSensitive bool
	Mandatory     bool
}

// tableForTag reports which projection table a constraint's tag lives in.
// Identifier tags (the ones registered as tags.KindIdentifier) are
// normalized at write time and looked up in DicomIdentifiers; everything
// else is a display attribute in MainDicomTags. tableForTag itself does
// not consult the registry: the Engine decides the kind with
// isIdentifierTag and passes the answer in as isIdentifier.
func tableForTag(isIdentifier bool) string {
	if isIdentifier {
		return "DicomIdentifiers"
	}
	return "MainDicomTags"
}

// buildCondition renders one constraint into a SQL boolean expression
// over table aliased as t, plus its positional bind arguments. Every
// value reaches the query through a bound parameter, never string
// interpolation, so constraint values can never be used to inject SQL.
func buildCondition(c DatabaseConstraint, isIdentifier bool) (string, []any, error) {
	value := c.Value
	if isIdentifier {
		value = normalizeForCompare(value)
	}

	// Identifier tags are already normalized into a comparable canonical
	// form at write time; case-folding them again would be redundant and
	// would bypass dicomnorm's own rules, so CaseSensitive only applies to
	// plain MainDicomTags values.
	column := "t.value"
	fold := func(s string) string { return s }
	if !c.CaseSensitive && !isIdentifier {
		column = "UPPER(t.value)"
		fold = strings.ToUpper
	}

	switch c.Operator {
	case OpEqual:
		return column + " = ?", []any{fold(value)}, nil

	case OpRange:
		end := c.RangeEnd
		if isIdentifier {
			end = normalizeForCompare(end)
		}
		return column + " BETWEEN ? AND ?", []any{fold(value), fold(end)}, nil

	case OpWildcard:
		pattern := wildcardToLike(fold(value))
		return column + " LIKE ? ESCAPE '\\'", []any{pattern}, nil

	case OpSetMembership:
		if len(c.Values) == 0 {
			return "0", nil, nil
		}
		placeholders := make([]string, len(c.Values))
		args := make([]any, len(c.Values))
		for i, v := range c.Values {
			if isIdentifier {
				v = normalizeForCompare(v)
			}
			placeholders[i] = "?"
			args[i] = fold(v)
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")), args, nil

	default:
		return "", nil, fmt.Errorf("lookup: unknown operator %d", c.Operator)
	}
}

// wildcardToLike translates a DICOM wildcard pattern ('*' any run, '?'
// exactly one character) into a SQL LIKE pattern ('%', '_'), escaping any
// literal LIKE metacharacter already present in the value with a
// backslash so it is matched literally rather than reinterpreted.
func wildcardToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizeForCompare mirrors the write-time identifier normalization so
// an identifier constraint value matches regardless of how the caller
// formatted it.
func normalizeForCompare(value string) string {
	return dicomnorm.Normalize(value)
}
