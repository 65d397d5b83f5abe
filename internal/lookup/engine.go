package lookup

import (
	"context"
	"fmt"
	"sort"

	"github.com/orthancore/indexcore/internal/model"
	"github.com/orthancore/indexcore/internal/sqlengine"
	"github.com/orthancore/indexcore/internal/tags"
)

// Engine resolves DatabaseConstraint sets into matching resources. It
// consults the tag registry only to decide which projection table
// (MainDicomTags vs DicomIdentifiers) a given tag lives in.
type Engine struct {
	conn     *sqlengine.Connection
	registry *tags.Registry
}

func New(conn *sqlengine.Connection, registry *tags.Registry) *Engine {
	return &Engine{conn: conn, registry: registry}
}

// Find resolves constraints to the public ids of resources at queryLevel,
// capped at maxResults. With no constraints at all, it returns the first
// maxResults resources at queryLevel in internal-id order.
func (e *Engine) Find(ctx context.Context, constraints []DatabaseConstraint, queryLevel model.ResourceLevel, maxResults int) ([]string, error) {
	byLevel := partitionByLevel(constraints)
	if len(byLevel) == 0 {
		return e.allAtLevel(ctx, queryLevel, maxResults)
	}

	levels := sortedLevels(byLevel)
	upper := levels[0]

	candidates, err := e.candidatesAtLevel(ctx, upper, byLevel[upper])
	if err != nil {
		return nil, err
	}

	current := upper
	for _, level := range levels[1:] {
		candidates, err = e.descendTo(ctx, candidates, current, level)
		if err != nil {
			return nil, err
		}
		candidates, err = e.filterAtLevel(ctx, candidates, level, byLevel[level])
		if err != nil {
			return nil, err
		}
		current = level
	}

	candidates, err = e.moveToLevel(ctx, candidates, current, queryLevel)
	if err != nil {
		return nil, err
	}

	candidates = dedupeInt64(candidates)
	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	return e.toPublicIDs(ctx, candidates)
}

// GetOneInstance returns a representative instance beneath internalID
// (which may itself already be an instance), by descending through the
// first child at each level until reaching model.Instance. It is used by
// callers that need a concrete file to act on (e.g. to preview a study)
// without caring which instance is chosen.
func (e *Engine) GetOneInstance(ctx context.Context, internalID int64, level model.ResourceLevel) (int64, error) {
	current := internalID
	for l := level; l < model.Instance; l++ {
		children, err := e.children(ctx, []int64{current})
		if err != nil {
			return 0, err
		}
		if len(children) == 0 {
			return 0, fmt.Errorf("lookup: resource %d has no children at level below %s", current, l)
		}
		current = children[0]
	}
	return current, nil
}

func partitionByLevel(constraints []DatabaseConstraint) map[model.ResourceLevel][]DatabaseConstraint {
	out := make(map[model.ResourceLevel][]DatabaseConstraint)
	for _, c := range constraints {
		out[c.Level] = append(out[c.Level], c)
	}
	return out
}

func sortedLevels(byLevel map[model.ResourceLevel][]DatabaseConstraint) []model.ResourceLevel {
	levels := make([]model.ResourceLevel, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels
}

func (e *Engine) allAtLevel(ctx context.Context, level model.ResourceLevel, maxResults int) ([]string, error) {
	stmt, err := e.conn.Rent(ctx, sqlengine.Here(), "SELECT publicId FROM Resources WHERE resourceType=? ORDER BY internalId LIMIT ?")
	if err != nil {
		return nil, fmt.Errorf("lookup: listing all at level %s: %w", level, err)
	}
	defer stmt.Release()

	rows, err := stmt.Query(ctx, int(level), maxResults)
	if err != nil {
		return nil, fmt.Errorf("lookup: listing all at level %s: %w", level, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// candidatesAtLevel returns every internal id at level satisfying
// constraints (all of them, intersected — a DICOM query is an implicit
// AND across its constraints). OpFuzzy constraints cannot be expressed in
// SQL and are applied afterwards as an in-memory post-filter.
//
// The query text below varies with the constraint set on every call, so
// it is built and run directly rather than through the call-site
// statement cache: a cache keyed by (file, line) assumes one fixed query
// per call site, and this one has no fixed shape to cache. The same
// applies to applyFuzzyFilter, children, parents and toPublicIDs, whose
// IN clauses grow with their argument count.
func (e *Engine) candidatesAtLevel(ctx context.Context, level model.ResourceLevel, constraints []DatabaseConstraint) ([]int64, error) {
	var sqlConstraints, fuzzyConstraints []DatabaseConstraint
	for _, c := range constraints {
		if c.Operator == OpFuzzy {
			fuzzyConstraints = append(fuzzyConstraints, c)
		} else {
			sqlConstraints = append(sqlConstraints, c)
		}
	}

	query := "SELECT r.internalId FROM Resources r WHERE r.resourceType = ?"
	args := []any{int(level)}

	for i, c := range sqlConstraints {
		isIdentifier := e.isIdentifierTag(level, c.Tag)
		table := tableForTag(isIdentifier)
		alias := fmt.Sprintf("t%d", i)

		cond, condArgs, err := buildCondition(c, isIdentifier)
		if err != nil {
			return nil, err
		}
		cond = replaceAlias(cond, alias)

		matchClause := fmt.Sprintf("SELECT %s.id FROM %s %s WHERE %s.tagGroup=? AND %s.tagElement=? AND %s",
			alias, table, alias, alias, alias, cond)

		if c.Mandatory {
			query += fmt.Sprintf(" AND r.internalId IN (%s)", matchClause)
			args = append(args, c.Tag.Group, c.Tag.Element)
			args = append(args, condArgs...)
		} else {
			// Optional: only exclude a resource that carries the tag and
			// fails to match it. One missing entirely is left alone.
			query += fmt.Sprintf(" AND (NOT EXISTS (SELECT 1 FROM %s %s WHERE %s.id=r.internalId AND %s.tagGroup=? AND %s.tagElement=?) OR r.internalId IN (%s))",
				table, alias, alias, alias, alias, matchClause)
			args = append(args, c.Tag.Group, c.Tag.Element)
			args = append(args, c.Tag.Group, c.Tag.Element)
			args = append(args, condArgs...)
		}
	}

	rows, err := e.conn.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup: querying candidates at level %s: %w", level, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range fuzzyConstraints {
		out, err = e.applyFuzzyFilter(ctx, out, level, c)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// applyFuzzyFilter keeps only the candidates whose projected value at
// c.Tag approximately matches c.Value.
func (e *Engine) applyFuzzyFilter(ctx context.Context, candidates []int64, level model.ResourceLevel, c DatabaseConstraint) ([]int64, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	isIdentifier := e.isIdentifierTag(level, c.Tag)
	table := tableForTag(isIdentifier)

	query, args := inClauseQuery(fmt.Sprintf(
		"SELECT id, value FROM %s WHERE tagGroup=? AND tagElement=? AND id IN (%%s)", table), candidates)
	args = append([]any{c.Tag.Group, c.Tag.Element}, args...)

	rows, err := e.conn.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup: fetching values for fuzzy match: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		var value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		if matchesFuzzyPersonName(c.Value, value) {
			out = append(out, id)
		}
	}
	return out, rows.Err()
}

func (e *Engine) filterAtLevel(ctx context.Context, candidates []int64, level model.ResourceLevel, constraints []DatabaseConstraint) ([]int64, error) {
	if len(constraints) == 0 {
		return candidates, nil
	}
	matched, err := e.candidatesAtLevel(ctx, level, constraints)
	if err != nil {
		return nil, err
	}
	return intersect(candidates, matched), nil
}

func (e *Engine) isIdentifierTag(level model.ResourceLevel, tag model.DicomTag) bool {
	for _, t := range e.registry.GetByLevel(level, tags.KindIdentifier) {
		if t == tag {
			return true
		}
	}
	return false
}

// descendTo moves candidates down from level "from" to the deeper level
// "to" by fetching their children, one level at a time; the two levels
// need not be adjacent.
func (e *Engine) descendTo(ctx context.Context, candidates []int64, from, to model.ResourceLevel) ([]int64, error) {
	return e.moveToLevel(ctx, candidates, from, to)
}

// moveToLevel walks candidates from level "from" to level "to": if to is
// deeper it repeatedly fetches children, if shallower it repeatedly
// fetches parents. Either direction deduplicates along the way since
// multiple candidates can share an ancestor.
func (e *Engine) moveToLevel(ctx context.Context, candidates []int64, from, to model.ResourceLevel) ([]int64, error) {
	current := candidates
	for from < to {
		next, err := e.children(ctx, current)
		if err != nil {
			return nil, err
		}
		current = dedupeInt64(next)
		from++
	}
	for from > to {
		next, err := e.parents(ctx, current)
		if err != nil {
			return nil, err
		}
		current = dedupeInt64(next)
		from--
	}
	return current, nil
}

func (e *Engine) children(ctx context.Context, internalIDs []int64) ([]int64, error) {
	if len(internalIDs) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery("SELECT internalId FROM Resources WHERE parentId IN (%s)", internalIDs)
	rows, err := e.conn.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup: fetching children: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (e *Engine) parents(ctx context.Context, internalIDs []int64) ([]int64, error) {
	if len(internalIDs) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery("SELECT parentId FROM Resources WHERE internalId IN (%s) AND parentId IS NOT NULL", internalIDs)
	rows, err := e.conn.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup: fetching parents: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (e *Engine) toPublicIDs(ctx context.Context, internalIDs []int64) ([]string, error) {
	if len(internalIDs) == 0 {
		return nil, nil
	}
	query, args := inClauseQuery("SELECT publicId FROM Resources WHERE internalId IN (%s)", internalIDs)
	rows, err := e.conn.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup: resolving public ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
