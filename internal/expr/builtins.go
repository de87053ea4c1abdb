package expr

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/authz-engine/pdp/internal/builtin"
)

type builtinDecl struct {
	decl *exprpb.Decl
	opt  cel.EnvOption
}

// builtinDecls declares the fixed matcher function library against the
// pure implementations in internal/builtin. Every one of these is total:
// a binding here never panics, since the underlying implementation
// already reports false (or "") on malformed input.
func builtinDecls() []builtinDecl {
	return []builtinDecl{
		boolFn2("keyMatch", builtin.KeyMatch),
		boolFn2("keyMatch2", builtin.KeyMatch2),
		boolFn2("keyMatch3", builtin.KeyMatch3),
		boolFn2("keyMatch4", builtin.KeyMatch4),
		boolFn2("regexMatch", builtin.RegexMatch),
		boolFn2("ipMatch", builtin.IPMatch),
		boolFn2("globMatch", builtin.GlobMatch),
		stringFn2("keyGet", builtin.KeyGet),
		stringFn3("keyGet2", builtin.KeyGet2),
		stringFn3("keyGet3", builtin.KeyGet3),
		timeMatchDecl(),
	}
}

// timeMatchDecl declares both timeMatch forms: the two-argument window
// check against the current instant, and the three-argument form taking
// an explicit instant, which deterministic tests rely on.
func timeMatchDecl() builtinDecl {
	decl := decls.NewFunction("timeMatch",
		decls.NewOverload("timeMatch_window",
			[]*exprpb.Type{decls.String, decls.String}, decls.Bool),
		decls.NewOverload("timeMatch_at",
			[]*exprpb.Type{decls.String, decls.String, decls.String}, decls.Bool),
	)
	opt := cel.Function("timeMatch",
		cel.Overload("timeMatch_window", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				a, aok := lhs.Value().(string)
				b, bok := rhs.Value().(string)
				if !aok || !bok {
					return types.False
				}
				return types.Bool(builtin.TimeMatchNow(a, b))
			}),
		),
		cel.Overload("timeMatch_at", []*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.BoolType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				strs, ok := toStrings(args)
				if !ok || len(strs) != 3 {
					return types.False
				}
				return types.Bool(builtin.TimeMatch(strs[0], strs[1], strs[2]))
			}),
		),
	)
	return builtinDecl{decl: decl, opt: opt}
}

func boolFn2(name string, fn func(a, b string) bool) builtinDecl {
	overloadID := name + "_builtin"
	decl := decls.NewFunction(name, decls.NewOverload(overloadID, []*exprpb.Type{decls.String, decls.String}, decls.Bool))
	opt := cel.Function(name,
		cel.Overload(overloadID, []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				a, aok := lhs.Value().(string)
				b, bok := rhs.Value().(string)
				if !aok || !bok {
					return types.False
				}
				return types.Bool(fn(a, b))
			}),
		),
	)
	return builtinDecl{decl: decl, opt: opt}
}

func stringFn2(name string, fn func(a, b string) string) builtinDecl {
	overloadID := name + "_builtin"
	decl := decls.NewFunction(name, decls.NewOverload(overloadID, []*exprpb.Type{decls.String, decls.String}, decls.String))
	opt := cel.Function(name,
		cel.Overload(overloadID, []*cel.Type{cel.StringType, cel.StringType}, cel.StringType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				a, aok := lhs.Value().(string)
				b, bok := rhs.Value().(string)
				if !aok || !bok {
					return types.String("")
				}
				return types.String(fn(a, b))
			}),
		),
	)
	return builtinDecl{decl: decl, opt: opt}
}

func stringFn3(name string, fn func(a, b, c string) string) builtinDecl {
	overloadID := name + "_builtin"
	decl := decls.NewFunction(name, decls.NewOverload(overloadID,
		[]*exprpb.Type{decls.String, decls.String, decls.String}, decls.String))
	opt := cel.Function(name,
		cel.Overload(overloadID, []*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.StringType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				strs, ok := toStrings(args)
				if !ok || len(strs) != 3 {
					return types.String("")
				}
				return types.String(fn(strs[0], strs[1], strs[2]))
			}),
		),
	)
	return builtinDecl{decl: decl, opt: opt}
}

