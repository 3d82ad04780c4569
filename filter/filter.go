// Package filter compiles user-supplied boolean expressions that decide
// which completed torrents are handed to the extraction engine.
package filter

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/unpackd/qbittorrent"
)

// Filter is a compiled torrent predicate.
type Filter struct {
	expression string
	program    *vm.Program
}

// CompilationError describes a filter expression that failed to compile.
type CompilationError struct {
	Expression string
	Reason     string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("invalid filter expression %q: %s", e.Expression, e.Reason)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

// Compile compiles an expression into an executable filter. An empty
// expression compiles to a filter matching every torrent.
func Compile(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		expression = "true"
	}

	program, err := expr.Compile(expression,
		expr.Env(baseEnv(nil)),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	return &Filter{
		expression: expression,
		program:    program,
	}, nil
}

// Match evaluates the filter against a torrent.
func (f *Filter) Match(t *qbittorrent.TorrentInfo) (bool, error) {
	result, err := expr.Run(f.program, baseEnv(t))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter did not evaluate to a boolean")
	}

	return matched, nil
}

func (f *Filter) String() string {
	return f.expression
}

// baseEnv builds the evaluation environment for one torrent. A nil torrent
// produces the typed environment used at compile time.
func baseEnv(t *qbittorrent.TorrentInfo) map[string]any {
	env := map[string]any{
		"Name":     "",
		"Category": "",
		"Tags":     []string{},
		"SavePath": "",
		"Size":     int64(0),
		"Progress": float64(0),
		"hasTag": func(tag string) bool {
			return t != nil && t.HasTag(tag)
		},
		"matches": func(pattern, value string) bool {
			matched, err := regexp.MatchString(pattern, value)
			return err == nil && matched
		},
		"glob": func(pattern, value string) bool {
			matched, err := filepath.Match(pattern, value)
			return err == nil && matched
		},
	}

	if t != nil {
		env["Name"] = t.Name
		env["Category"] = t.Category
		env["Tags"] = t.Tags
		env["SavePath"] = t.SavePath
		env["Size"] = t.Size
		env["Progress"] = t.Progress
	}

	return env
}
