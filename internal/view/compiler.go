package view

import (
	"fmt"
	"reflect"

	"github.com/fmedlin/touchdb/pkg/model"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"
)

// LanguageCEL is the view and filter language backed by Common Expression Language.
const LanguageCEL = "cel"

// Emit is one key/value pair produced by a map function.
type Emit struct {
	Key   interface{}
	Value interface{}
}

// MapFunc turns a document into index rows.
type MapFunc func(doc model.Body) ([]Emit, error)

// ReduceFunc folds the values of a row group. With rereduce set, values are
// previous reduce results and keys is nil.
type ReduceFunc func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error)

// FilterFunc decides whether a document passes a changes filter. req carries
// the request's query parameters under "query".
type FilterFunc func(doc model.Body, req map[string]interface{}) (bool, error)

// Compiler turns design-document source into executable functions.
type Compiler interface {
	CompileMap(source string) (MapFunc, error)
	CompileReduce(source string) (ReduceFunc, error)
	CompileFilter(source string) (FilterFunc, error)
}

// CELCompiler compiles CEL expressions.
//
// A map expression sees the document as doc and yields either a list of
// [key, value] pairs, a list of {"key", "value"} maps, a single such map, or
// null for no rows. A reduce expression sees keys, values and rereduce. A
// filter expression sees doc and req and yields a bool.
type CELCompiler struct {
	mapEnv    *cel.Env
	reduceEnv *cel.Env
	filterEnv *cel.Env
}

func NewCELCompiler() (*CELCompiler, error) {
	docType := cel.MapType(cel.StringType, cel.DynType)
	mapEnv, err := cel.NewEnv(
		cel.Variable("doc", docType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	reduceEnv, err := cel.NewEnv(
		cel.Variable("keys", cel.ListType(cel.DynType)),
		cel.Variable("values", cel.ListType(cel.DynType)),
		cel.Variable("rereduce", cel.BoolType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	filterEnv, err := cel.NewEnv(
		cel.Variable("doc", docType),
		cel.Variable("req", docType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	return &CELCompiler{mapEnv: mapEnv, reduceEnv: reduceEnv, filterEnv: filterEnv}, nil
}

func compile(env *cel.Env, source string) (cel.Program, error) {
	ast, iss := env.Compile(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", source, iss.Err())
	}
	return env.Program(ast)
}

func (c *CELCompiler) CompileMap(source string) (MapFunc, error) {
	prg, err := compile(c.mapEnv, source)
	if err != nil {
		return nil, err
	}
	return func(doc model.Body) ([]Emit, error) {
		out, _, err := prg.Eval(map[string]interface{}{"doc": map[string]interface{}(doc)})
		if err != nil {
			return nil, err
		}
		native, err := toJSON(out)
		if err != nil {
			return nil, err
		}
		return emitsFrom(native)
	}, nil
}

func (c *CELCompiler) CompileReduce(source string) (ReduceFunc, error) {
	prg, err := compile(c.reduceEnv, source)
	if err != nil {
		return nil, err
	}
	return func(keys []interface{}, values []interface{}, rereduce bool) (interface{}, error) {
		if keys == nil {
			keys = []interface{}{}
		}
		out, _, err := prg.Eval(map[string]interface{}{
			"keys":     keys,
			"values":   values,
			"rereduce": rereduce,
		})
		if err != nil {
			return nil, err
		}
		return toJSON(out)
	}, nil
}

func (c *CELCompiler) CompileFilter(source string) (FilterFunc, error) {
	prg, err := compile(c.filterEnv, source)
	if err != nil {
		return nil, err
	}
	return func(doc model.Body, req map[string]interface{}) (bool, error) {
		out, _, err := prg.Eval(map[string]interface{}{
			"doc": map[string]interface{}(doc),
			"req": req,
		})
		if err != nil {
			return false, err
		}
		pass, ok := out.Value().(bool)
		return ok && pass, nil
	}, nil
}

var jsonValueType = reflect.TypeOf(&structpb.Value{})

// toJSON converts a CEL result into plain decoded-JSON values.
func toJSON(v ref.Val) (interface{}, error) {
	if types.IsError(v) {
		return nil, fmt.Errorf("%v", v)
	}
	native, err := v.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, err
	}
	return native.(*structpb.Value).AsInterface(), nil
}

func emitsFrom(v interface{}) ([]Emit, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		e, err := emitFrom(x)
		if err != nil {
			return nil, err
		}
		return []Emit{e}, nil
	case []interface{}:
		emits := make([]Emit, 0, len(x))
		for _, item := range x {
			e, err := emitFrom(item)
			if err != nil {
				return nil, err
			}
			emits = append(emits, e)
		}
		return emits, nil
	}
	return nil, fmt.Errorf("map result must be a list or an object, got %T", v)
}

func emitFrom(v interface{}) (Emit, error) {
	switch x := v.(type) {
	case []interface{}:
		if len(x) != 2 {
			return Emit{}, fmt.Errorf("emitted pair must have 2 elements, got %d", len(x))
		}
		return Emit{Key: x[0], Value: x[1]}, nil
	case map[string]interface{}:
		key, ok := x["key"]
		if !ok {
			return Emit{}, fmt.Errorf("emitted object has no key")
		}
		return Emit{Key: key, Value: x["value"]}, nil
	}
	return Emit{}, fmt.Errorf("emitted row must be a pair or an object, got %T", v)
}
