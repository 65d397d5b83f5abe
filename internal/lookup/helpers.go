package lookup

import (
	"fmt"
	"strings"
)

// replaceAlias rewrites the "t." placeholder alias produced by
// buildCondition to the actual per-subquery alias used in candidatesAtLevel,
// so multiple constraints on the same level don't collide in one query.
func replaceAlias(cond, alias string) string {
	return strings.ReplaceAll(cond, "t.", alias+".")
}

// inClauseQuery expands a "%s"-templated query with one "?" placeholder
// per id in ids, returning the finished query text and its bind
// arguments — ids are always bound as parameters, never interpolated.
func inClauseQuery(template string, ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return fmt.Sprintf(template, strings.Join(placeholders, ",")), args
}

// dedupeInt64 removes duplicate ids while preserving first-seen order.
func dedupeInt64(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// intersect returns the ids present in both a and b, preserving a's
// order.
func intersect(a, b []int64) []int64 {
	inB := make(map[int64]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}
	var out []int64
	for _, id := range a {
		if inB[id] {
			out = append(out, id)
		}
	}
	return out
}
