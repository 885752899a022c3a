// Package rules evaluates per-category auto-catch rules against tab
// snapshots. A rule is a boolean expression over a `tab` context, e.g.
//
//	startsWith(tab.url, "https://mail.") && !tab.pinned
//
// The expression capability is expr-lang; helper functions startsWith,
// endsWith, lower, upper and matchRegex are injected into every evaluation.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/expr-lang/expr"
)

var (
	// ErrBadCaptureName indicates a matchRegex capture variable that is not
	// a valid identifier.
	ErrBadCaptureName = errors.New("invalid capture variable name")
	// ErrCaptureNameTaken indicates a matchRegex capture variable colliding
	// with an existing context key.
	ErrCaptureNameTaken = errors.New("capture variable name already bound")
	// ErrNotBoolean indicates a rule that evaluated to a non-boolean value.
	ErrNotBoolean = errors.New("rule did not evaluate to a boolean")
)

var captureNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Evaluator evaluates auto-catch rules. Every call builds a fresh expression
// environment and compiles a fresh program, so concurrent evaluations cannot
// observe each other's regex capture bindings.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Matches reports whether the tab satisfies the rule. An empty rule never
// matches and never touches the expression engine.
func (e *Evaluator) Matches(tab archive.TabSnapshot, rule string) (bool, error) {
	if rule == "" {
		return false, nil
	}

	env := newEnv(tab)
	program, err := expr.Compile(rule, expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("compiling rule: %w", err)
	}

	out, err := expr.Run(program, env.bindings)
	if err != nil {
		return false, fmt.Errorf("evaluating rule: %w", err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: got %T", ErrNotBoolean, out)
	}
	return result, nil
}

// Validate evaluates the rule against a representative tab context purely to
// surface syntax or runtime errors before the rule is saved. An empty rule is
// valid.
func (e *Evaluator) Validate(rule string) error {
	if rule == "" {
		return nil
	}
	_, err := e.Matches(validationTab, rule)
	return err
}

// validationTab stands in for "the current active tab" when validating rules.
var validationTab = archive.TabSnapshot{
	ID:       1,
	WindowID: 1,
	URL:      "https://example.com/",
	Title:    "Example Domain",
	Active:   true,
}

// env holds the per-evaluation bindings. matchRegex mutates bindings when a
// capture variable is requested, which is why environments are never shared
// between evaluations.
type env struct {
	bindings map[string]any
}

func newEnv(tab archive.TabSnapshot) *env {
	e := &env{}
	e.bindings = map[string]any{
		"tab": map[string]any{
			"id":           tab.ID,
			"windowId":     tab.WindowID,
			"index":        tab.Index,
			"url":          tab.URL,
			"title":        tab.Title,
			"pinned":       tab.Pinned,
			"hidden":       tab.Hidden,
			"active":       tab.Active,
			"highlighted":  tab.Highlighted,
			"discarded":    tab.Discarded,
			"favIconUrl":   tab.FavIconURL,
			"lastAccessed": tab.LastAccessed,
		},
		"startsWith": strings.HasPrefix,
		"endsWith":   strings.HasSuffix,
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"matchRegex": e.matchRegex,
	}
	return e
}

// matchRegex tests s against a /pattern/flags or bare pattern. When a capture
// variable name is given, the submatch slice (or nil on no match) is bound
// into the evaluation context for later sub-expressions of the same rule.
func (e *env) matchRegex(s, pattern string, captureVar ...string) (bool, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}

	match := re.FindStringSubmatch(s)

	if len(captureVar) > 0 {
		name := captureVar[0]
		if !captureNameRe.MatchString(name) {
			return false, fmt.Errorf("%w: %q", ErrBadCaptureName, name)
		}
		if _, exists := e.bindings[name]; exists {
			return false, fmt.Errorf("%w: %q", ErrCaptureNameTaken, name)
		}
		if match == nil {
			e.bindings[name] = nil
		} else {
			groups := make([]any, len(match))
			for i, g := range match {
				groups[i] = g
			}
			e.bindings[name] = groups
		}
	}

	return match != nil, nil
}

// compilePattern accepts either a bare Go regexp or a /pattern/flags literal
// with the flags i, m and s. The g and u flags are meaningless here and are
// ignored.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	body := pattern
	var flags string
	if strings.HasPrefix(pattern, "/") {
		if end := strings.LastIndex(pattern, "/"); end > 0 {
			body = pattern[1:end]
			flags = pattern[end+1:]
		}
	}

	var prefix string
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix += string(f)
		case 'g', 'u':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", string(f))
		}
	}
	if prefix != "" {
		body = "(?" + prefix + ")" + body
	}

	re, err := regexp.Compile(body)
	if err != nil {
		return nil, fmt.Errorf("compiling regex: %w", err)
	}
	return re, nil
}
