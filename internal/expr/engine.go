// Package expr compiles and evaluates matcher and effect expressions
// against named scope bindings (r, p, r2, p2, ...), built on top of CEL.
// A distinct Engine is built per loaded Model, since the set of scope
// names and role-function arities it must declare varies model to model;
// compiled programs are cached by expression text for the life of the
// Engine.
package expr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/authz-engine/pdp/pkg/model"
)

// RoleResolver is the subset of a role manager's API the evaluator needs
// to bind g()/g2()/g3() calls. *rbac.Manager satisfies it.
type RoleResolver interface {
	HasLink(ctx context.Context, user, role string, domain ...string) bool
}

// Engine compiles and evaluates expressions scoped to one Model: its
// declared request/policy scope names and its role (grouping)
// definitions.
type Engine struct {
	env      *cel.Env
	programs sync.Map // string -> cel.Program
}

// NewEngine builds an Engine for m. roleManagers maps each role
// (grouping) definition name declared in m (e.g. "g", "g2") to the
// manager that answers its reachability queries; registry supplies any
// additional user-registered predicates to declare alongside the fixed
// built-in library.
func NewEngine(m *model.Model, roleManagers map[string]RoleResolver, registry *Registry) (*Engine, error) {
	var varDecls []*exprpb.Decl
	for _, name := range m.RequestNames() {
		varDecls = append(varDecls, decls.NewVar(name, decls.NewMapType(decls.String, decls.Dyn)))
	}
	for _, name := range m.PolicyNames() {
		varDecls = append(varDecls, decls.NewVar(name, decls.NewMapType(decls.String, decls.Dyn)))
	}

	var funcDecls []*exprpb.Decl
	var funcOpts []cel.EnvOption

	for _, name := range m.RoleNames() {
		arity, _ := m.RoleArity(name)
		resolver := roleManagers[name]
		decl, opt, err := roleFunctionDecl(name, arity, resolver)
		if err != nil {
			return nil, err
		}
		funcDecls = append(funcDecls, decl)
		funcOpts = append(funcOpts, opt)
	}

	for _, b := range builtinDecls() {
		funcDecls = append(funcDecls, b.decl)
		funcOpts = append(funcOpts, b.opt)
	}

	if registry != nil {
		for name, arity := range registry.Names() {
			decl, opt, err := customFunctionDecl(name, arity, registry)
			if err != nil {
				return nil, err
			}
			funcDecls = append(funcDecls, decl)
			funcOpts = append(funcOpts, opt)
		}
	}

	opts := []cel.EnvOption{cel.Declarations(append(varDecls, funcDecls...)...)}
	opts = append(opts, funcOpts...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("expr: building CEL environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses and type-checks expr, caching the resulting program by
// expr's literal text. A malformed expression is reported here, at
// construction time, never at evaluation time.
func (e *Engine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compiling %q: %w", expr, issues.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: building program for %q: %w", expr, err)
	}
	e.programs.Store(expr, prog)
	return prog, nil
}

// Eval runs prog against the supplied scope bindings (e.g.
// {"r": {...}, "p": {...}}) and reports the resulting boolean. A binding
// that omits a scope name the expression references is a runtime error
// returned to the caller, per the evaluator's contract.
func (e *Engine) Eval(prog cel.Program, scopes map[string]map[string]interface{}) (bool, error) {
	vars := make(map[string]interface{}, len(scopes))
	for k, v := range scopes {
		vars[k] = v
	}
	out, _, err := prog.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: evaluation failed: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expr: expression did not evaluate to a boolean")
	}
	return b, nil
}

// EvalExpr compiles (or reuses the cached compilation of) expr and
// evaluates it against scopes in one call.
func (e *Engine) EvalExpr(expr string, scopes map[string]map[string]interface{}) (bool, error) {
	prog, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	return e.Eval(prog, scopes)
}

// roleFunctionDecl builds the declaration and binding for a role
// (grouping) function such as g(sub, role) or g(sub, role, dom). A
// resolver of nil means the role definition is declared but no manager
// has been wired to it yet; calls then report false, fail-closed, rather
// than panicking.
//
// Role-manager queries invoked through a matcher expression run without
// the caller's request context -- CEL's function-binding signature has
// no channel to carry one through. Context-aware role managers are still
// reachable directly (bypassing the matcher) by callers that need
// cancellation-aware traversal.
func roleFunctionDecl(name string, arity int, resolver RoleResolver) (*exprpb.Decl, cel.EnvOption, error) {
	if arity != 2 && arity != 3 {
		return nil, nil, fmt.Errorf("expr: role definition %q has unsupported arity %d", name, arity)
	}
	argTypes := make([]*exprpb.Type, arity)
	celArgTypes := make([]*cel.Type, arity)
	for i := range argTypes {
		argTypes[i] = decls.String
		celArgTypes[i] = cel.StringType
	}
	overloadID := name + "_role_fn"

	decl := decls.NewFunction(name, decls.NewOverload(overloadID, argTypes, decls.Bool))
	opt := cel.Function(name,
		cel.Overload(overloadID, celArgTypes, cel.BoolType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				if resolver == nil {
					return types.False
				}
				strs, ok := toStrings(args)
				if !ok {
					return types.False
				}
				if len(strs) == 2 {
					return types.Bool(resolver.HasLink(context.Background(), strs[0], strs[1]))
				}
				return types.Bool(resolver.HasLink(context.Background(), strs[0], strs[1], strs[2]))
			}),
		),
	)
	return decl, opt, nil
}

func customFunctionDecl(name string, arity int, registry *Registry) (*exprpb.Decl, cel.EnvOption, error) {
	if arity < 0 {
		return nil, nil, fmt.Errorf("expr: custom function %q has invalid arity %d", name, arity)
	}
	argTypes := make([]*exprpb.Type, arity)
	celArgTypes := make([]*cel.Type, arity)
	for i := range argTypes {
		argTypes[i] = decls.String
		celArgTypes[i] = cel.StringType
	}
	overloadID := name + "_custom_fn"

	decl := decls.NewFunction(name, decls.NewOverload(overloadID, argTypes, decls.Bool))
	opt := cel.Function(name,
		cel.Overload(overloadID, celArgTypes, cel.BoolType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				strs, ok := toStrings(args)
				if !ok {
					return types.False
				}
				return types.Bool(registry.call(name, strs))
			}),
		),
	)
	return decl, opt, nil
}

func toStrings(args []ref.Val) ([]string, bool) {
	out := make([]string, len(args))
	for i, a := range args {
		s, ok := a.Value().(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}
