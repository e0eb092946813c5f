package generations

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// Generation filter DSL. Users write lower-case field names and compact
// age literals; both are rewritten into the expression language before
// compilation.
var (
	createdRe = regexp.MustCompile(`\b(?i)(created)\s*(<=|>=|<|>)\s*([0-9]+(?:\.[0-9]+)?[smhdMyw]+)\b`)
	identRe   = regexp.MustCompile(`\b(?i)(created|number|current|description|kernel|path|link)\b`)
	fieldMap  = map[string]string{
		"created": "Created", "number": "Number", "current": "Current",
		"description": "Description", "kernel": "Kernel",
		"path": "Path", "link": "Link",
	}
)

const FilterHelp = "Filter generations by expression: fields(number <int>, current <bool>, " +
	"description/kernel/path <string>, created <age[like 1h, 2d, 3M, 1y]>); " +
	"operators(==,!=,<,>,<=,>=); helpers(glob(description, pattern), regex(description, pattern)); " +
	"logic(and|or|not); Example: --filter=\"created > 30d and not current\""

type Filter func(Generation) (bool, error)

// CompileFilter turns a DSL expression into a filter function.
func CompileFilter(query string) (Filter, error) {
	q := preprocessDSL(query)

	prog, err := expr.Compile(q,
		expr.Env(Generation{}),
		expr.Function("ago", func(params ...any) (any, error) { return ago(params[0].(string)) }),
		expr.Function("glob", func(params ...any) (any, error) { return globMatch(params[0].(string), params[1].(string)) }),
		expr.Function("regex", func(params ...any) (any, error) { return regexMatch(params[0].(string), params[1].(string)) }),
		expr.Function("now", func(params ...any) (any, error) { return time.Now(), nil }),
	)
	if err != nil {
		return nil, err
	}

	return func(gen Generation) (bool, error) {
		out, err := expr.Run(prog, gen)
		if err != nil {
			return false, fmt.Errorf("filter eval %q on generation %d: %w", query, gen.Number, err)
		}
		result, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("filter expression resulted in a non-boolean value of type %T. Make sure your filter is a valid comparison (e.g., 'number > 40')", out)
		}
		return result, nil
	}, nil
}

// preprocessDSL applies the DSL rewrites: age comparisons become ago()
// calls with the operator flipped (an older generation has a smaller
// timestamp), then lower-case identifiers map onto the struct fields.
func preprocessDSL(q string) string {
	q = createdRe.ReplaceAllStringFunc(q, func(m string) string {
		parts := createdRe.FindStringSubmatch(m)
		op, val := parts[2], parts[3]
		switch op {
		case ">":
			op = "<"
		case "<":
			op = ">"
		case ">=":
			op = "<="
		case "<=":
			op = ">="
		}
		return fmt.Sprintf("Created %s ago(%q)", op, val)
	})
	q = identRe.ReplaceAllStringFunc(q, func(s string) string {
		if goF, ok := fieldMap[strings.ToLower(s)]; ok {
			return goF
		}
		return s
	})
	return q
}

// ago returns time.Now() minus the parsed duration.
func ago(durationStr string) (time.Time, error) {
	d, err := parseExtendedDuration(durationStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

// parseExtendedDuration supports standard and custom units (d, w, M, y).
func parseExtendedDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	var factor time.Duration
	num, unit := s[:len(s)-1], s[len(s)-1:]
	switch unit {
	case "d":
		factor = 24 * time.Hour
	case "w":
		factor = 7 * 24 * time.Hour
	case "M":
		factor = 30 * 24 * time.Hour
	case "y":
		factor = 365 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(f * float64(factor)), nil
}

func globMatch(s, pattern string) (bool, error) {
	return filepath.Match(pattern, s)
}

func regexMatch(s, pattern string) (bool, error) {
	return regexp.MatchString(pattern, s)
}

// ApplyFilter returns whether the generation should be kept. A nil
// filter keeps everything.
func ApplyFilter(gen Generation, filter Filter) (bool, error) {
	if filter == nil {
		return true, nil
	}
	keep, err := filter(gen)
	if err != nil {
		return false, fmt.Errorf("unable to apply filter: %w", err)
	}
	return keep, nil
}
