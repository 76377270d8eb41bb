package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/actiongraph/internal/ir"
)

// fieldPattern restricts property names usable in predicates. The name ends up
// inside a JSON path parameter, so it must not contain path syntax.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile converts a Match into a statement selecting node ids.
// Returns (sql, params, error).
//
// MANDATORY: every statement ends with ORDER BY n.rowid, n.id.
func Compile(m Match) (string, []any, error) {
	var (
		sb     strings.Builder
		params []any
	)

	sb.WriteString("SELECT n.id FROM nodes n")
	if m.Label != "" {
		sb.WriteString(" JOIN node_labels ml ON ml.node_id = n.id AND ml.label = ?")
		params = append(params, m.Label)
	}

	if m.Where != nil {
		where, whereParams, err := compilePredicate(m.Where)
		if err != nil {
			return "", nil, fmt.Errorf("compile where: %w", err)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
		params = append(params, whereParams...)
	}

	sb.WriteString(" ORDER BY n.rowid ASC, n.id ASC COLLATE BINARY")

	if m.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, m.Limit)
	}

	return sb.String(), params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return compileEquals(pred)
	case *Equals:
		return compileEquals(*pred)
	case Missing:
		if !fieldPattern.MatchString(pred.Field) {
			return "", nil, fmt.Errorf("invalid property name %q", pred.Field)
		}
		return "json_type(n.props, ?) IS NULL", []any{"$." + pred.Field}, nil
	case HasLabel:
		return "EXISTS (SELECT 1 FROM node_labels l WHERE l.node_id = n.id AND l.label = ?)", []any{pred.Label}, nil
	case LacksLabel:
		return "NOT EXISTS (SELECT 1 FROM node_labels l WHERE l.node_id = n.id AND l.label = ?)", []any{pred.Label}, nil
	case And:
		return compileAnd(pred)
	case *And:
		return compileAnd(*pred)
	case nil:
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles Equals to a json_extract comparison.
// Scalars compare natively; arrays and objects compare by canonical text,
// which is how they are stored.
func compileEquals(eq Equals) (string, []any, error) {
	if !fieldPattern.MatchString(eq.Field) {
		return "", nil, fmt.Errorf("invalid property name %q", eq.Field)
	}
	path := "$." + eq.Field

	switch val := eq.Value.(type) {
	case ir.IRString:
		return "json_type(n.props, ?) = 'text' AND json_extract(n.props, ?) = ?", []any{path, path, string(val)}, nil
	case ir.IRInt:
		return "json_type(n.props, ?) = 'integer' AND json_extract(n.props, ?) = ?", []any{path, path, int64(val)}, nil
	case ir.IRBool:
		want := "false"
		if val {
			want = "true"
		}
		return "json_type(n.props, ?) = ?", []any{path, want}, nil
	case ir.IRArray, ir.IRObject:
		text, err := ir.CanonicalString(val)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return "json_extract(n.props, ?) = ?", []any{path, text}, nil
	case ir.IRNull, nil:
		return "", nil, fmt.Errorf("null never equals anything; use Missing{Field: %q}", eq.Field)
	default:
		return "", nil, fmt.Errorf("unsupported value type: %T", eq.Value)
	}
}

func compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, pred := range and.Predicates {
		sql, predParams, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, predParams...)
	}
	return strings.Join(parts, " AND "), params, nil
}
