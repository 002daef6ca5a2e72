package entities

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
	"github.com/tidwall/gjson"
)

// indexValue is one stored index cell. Numbers keep their text form too,
// so equality and set membership always compare text.
type indexValue struct {
	text string
	num  sql.NullFloat64
}

// extractIndex returns the index values of field in a JSON document;
// arrays yield one value per element.
func extractIndex(data []byte, field string) []indexValue {
	r := gjson.GetBytes(data, field)
	if !r.Exists() {
		return nil
	}
	if r.IsArray() {
		var out []indexValue
		r.ForEach(func(_, el gjson.Result) bool {
			if v, ok := indexOf(el); ok {
				out = append(out, v)
			}
			return true
		})
		return out
	}
	if v, ok := indexOf(r); ok {
		return []indexValue{v}
	}
	return nil
}

func indexOf(r gjson.Result) (indexValue, bool) {
	switch r.Type {
	case gjson.Number:
		return numberValue(r.Num), true
	case gjson.True:
		return indexValue{text: "true"}, true
	case gjson.False:
		return indexValue{text: "false"}, true
	case gjson.String:
		return indexValue{text: normalizeText(r.Str)}, true
	case gjson.JSON:
		return indexValue{text: r.Raw}, true
	}
	return indexValue{}, false
}

func numberValue(f float64) indexValue {
	return indexValue{
		text: strconv.FormatFloat(f, 'f', -1, 64),
		num:  sql.NullFloat64{Float64: f, Valid: true},
	}
}

// normalizeText rewrites RFC 3339 timestamps into the fixed-width layout.
func normalizeText(s string) string {
	if len(s) >= len("2006-01-02T15:04:05Z") && s[4] == '-' && s[10] == 'T' {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return formatTime(t)
		}
	}
	return s
}

func operand(v any) (indexValue, error) {
	switch x := v.(type) {
	case string:
		return indexValue{text: normalizeText(x)}, nil
	case time.Time:
		return indexValue{text: formatTime(x)}, nil
	case bool:
		return indexValue{text: strconv.FormatBool(x)}, nil
	case int:
		return numberValue(float64(x)), nil
	case int64:
		return numberValue(float64(x)), nil
	case float64:
		return numberValue(x), nil
	}
	return indexValue{}, fmt.Errorf("%w: unsupported operand %T", query.ErrInvalidQuery, v)
}

func (s *SQLiteStore) writeIndex(ctx context.Context, tx dbx.DBTX, rec *Record) error {
	if err := deleteIndex(ctx, tx, rec.Collection, rec.ID); err != nil {
		return err
	}
	for _, field := range s.indexes[rec.Collection] {
		for _, v := range extractIndex(rec.Data, field) {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO entity_index (collection, id, field, value, num) VALUES (?, ?, ?, ?, ?)`,
				string(rec.Collection), rec.ID, field, v.text, v.num)
			if err != nil {
				return fmt.Errorf("failed to index %s.%s: %w", rec.ID, field, err)
			}
		}
	}
	return nil
}

func deleteIndex(ctx context.Context, tx dbx.DBTX, c models.Collection, id string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM entity_index WHERE collection = ? AND id = ?`, string(c), id)
	if err != nil {
		return fmt.Errorf("failed to delete index rows: %w", err)
	}
	return nil
}

// compiledMatcher is a Matcher with normalized operands.
type compiledMatcher struct {
	eq     *indexValue
	in     []indexValue
	ranges []rangeCond
	re     *regexp.Regexp
}

type rangeCond struct {
	op  string
	arg indexValue
}

func compileMatcher(m Matcher) (*compiledMatcher, error) {
	cm := &compiledMatcher{}
	if m.Eq != nil {
		v, err := operand(m.Eq)
		if err != nil {
			return nil, err
		}
		cm.eq = &v
	}
	if m.In != nil {
		cm.in = make([]indexValue, 0, len(m.In))
		for _, x := range m.In {
			v, err := operand(x)
			if err != nil {
				return nil, err
			}
			cm.in = append(cm.in, v)
		}
	}
	for _, r := range []struct {
		op  string
		arg any
	}{{">", m.Gt}, {">=", m.Gte}, {"<", m.Lt}, {"<=", m.Lte}} {
		if r.arg == nil {
			continue
		}
		v, err := operand(r.arg)
		if err != nil {
			return nil, err
		}
		cm.ranges = append(cm.ranges, rangeCond{op: r.op, arg: v})
	}
	if m.Regex != "" {
		re, err := regexp.Compile(m.Regex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrInvalidQuery, err)
		}
		cm.re = re
	}
	return cm, nil
}

// where renders every condition except the regex as SQL over entity_index.
func (cm *compiledMatcher) where() (string, []any) {
	var conds []string
	var args []any

	if cm.eq != nil {
		conds = append(conds, "i.value = ?")
		args = append(args, cm.eq.text)
	}
	if cm.in != nil {
		if len(cm.in) == 0 {
			conds = append(conds, "0")
		} else {
			conds = append(conds, "i.value IN (?"+strings.Repeat(", ?", len(cm.in)-1)+")")
			for _, v := range cm.in {
				args = append(args, v.text)
			}
		}
	}
	for _, r := range cm.ranges {
		if r.arg.num.Valid {
			conds = append(conds, "i.num "+r.op+" ?")
			args = append(args, r.arg.num.Float64)
		} else {
			conds = append(conds, "i.num IS NULL AND i.value "+r.op+" ?")
			args = append(args, r.arg.text)
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

func (cm *compiledMatcher) match(v indexValue) bool {
	if cm.eq != nil && v.text != cm.eq.text {
		return false
	}
	if cm.in != nil && !slices.ContainsFunc(cm.in, func(x indexValue) bool { return x.text == v.text }) {
		return false
	}
	for _, r := range cm.ranges {
		var c int
		if r.arg.num.Valid {
			if !v.num.Valid {
				return false
			}
			c = compareFloat(v.num.Float64, r.arg.num.Float64)
		} else {
			if v.num.Valid {
				return false
			}
			c = strings.Compare(v.text, r.arg.text)
		}
		ok := (r.op == ">" && c > 0) || (r.op == ">=" && c >= 0) ||
			(r.op == "<" && c < 0) || (r.op == "<=" && c <= 0)
		if !ok {
			return false
		}
	}
	if cm.re != nil && !cm.re.MatchString(v.text) {
		return false
	}
	return true
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (s *SQLiteStore) indexed(c models.Collection, field string) bool {
	return slices.Contains(s.indexes[c], field)
}

// FindByIndex returns the records whose field satisfies m, in creation
// order. Fields without an index are matched by a full scan with the same
// semantics.
func (s *SQLiteStore) FindByIndex(ctx context.Context, c models.Collection, field string, m Matcher) ([]*Record, error) {
	cm, err := compileMatcher(m)
	if err != nil {
		return nil, err
	}

	if !s.indexed(c, field) {
		return s.FindAll(ctx, c, FindOptions{Filter: func(r *Record) bool {
			return slices.ContainsFunc(extractIndex(r.Data, field), cm.match)
		}})
	}

	where, args := cm.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.collection, e.id, e.data, e.compressed, e.schema_version, e.created_at, e.updated_at, i.value
		FROM entity_index i
		JOIN entities e ON e.collection = i.collection AND e.id = i.id
		WHERE i.collection = ? AND i.field = ?`+where+`
		ORDER BY e.created_at, e.id`,
		append([]any{string(c), field}, args...)...)
	if err != nil {
		return nil, common.NewStorageError("find", fmt.Errorf("failed to query index: %w", err))
	}
	defer rows.Close()

	var result []*Record
	seen := make(map[string]bool)
	for rows.Next() {
		var (
			row   storedRow
			value string
		)
		if err := rows.Scan(append(row.dest(), &value)...); err != nil {
			return nil, common.NewStorageError("find", err)
		}
		if seen[row.id] || (cm.re != nil && !cm.re.MatchString(value)) {
			continue
		}
		rec, err := row.record()
		if err != nil {
			return nil, common.NewStorageError("find", err)
		}
		seen[row.id] = true
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewStorageError("find", err)
	}
	return result, nil
}
