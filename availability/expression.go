package availability

import (
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

type Evaluator interface {
	Evaluate(env map[string]any) (bool, error)
	Dependencies() []string
}

// Expression is a compiled boolean expression such as
// `bridge == "Online" && rssi > -80`.
type Expression struct {
	source  string
	program *vm.Program
	deps    []string
}

type identCollector struct {
	seen map[string]bool
}

func (ic *identCollector) Visit(node *ast.Node) {
	if ident, ok := (*node).(*ast.IdentifierNode); ok {
		ic.seen[ident.Value] = true
	}
}

func Compile(source string) (*Expression, error) {
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse availability expression %q", source)
	}

	collector := &identCollector{seen: make(map[string]bool)}
	ast.Walk(&tree.Node, collector)

	program, err := expr.Compile(source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile availability expression %q", source)
	}

	deps := []string{}
	for name := range collector.seen {
		deps = append(deps, name)
	}
	sort.Strings(deps)

	return &Expression{source: source, program: program, deps: deps}, nil
}

func (e *Expression) Evaluate(env map[string]any) (bool, error) {
	for _, dep := range e.deps {
		if _, ok := env[dep]; !ok {
			return false, errors.Errorf("fact %s is not known yet", dep)
		}
	}

	out, err := expr.Run(e.program, env)
	if err != nil {
		return false, errors.Wrapf(err, "failed to evaluate %q", e.source)
	}

	result, ok := out.(bool)
	if !ok {
		return false, errors.Errorf("expression %q returned %T, not bool", e.source, out)
	}
	return result, nil
}

func (e *Expression) Dependencies() []string {
	return e.deps
}

func (e *Expression) String() string {
	return e.source
}
