package control

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/graphql-go/graphql"
)

// newGraphqlType builds an output object and a matching input object from the json tags
// of the struct val points to. Untagged fields are skipped.
func newGraphqlType(name string, val interface{}) (*graphql.Object, *graphql.InputObject) {
	fields := graphql.Fields{}
	inputFields := graphql.InputObjectConfigFieldMap{}

	ref := reflect.TypeOf(val).Elem()
	tagMap := newJSONTagFieldMap(ref)

	for tag, i := range tagMap {
		f := ref.Field(i)
		typ := scalarType(f.Type)
		if typ == nil {
			panic(fmt.Sprint("unsupported type ", f.Type))
		}
		fields[tag] = &graphql.Field{Type: typ, Resolve: resolver(i)}
		inputFields[tag] = &graphql.InputObjectFieldConfig{Type: typ}
	}

	obj := graphql.NewObject(graphql.ObjectConfig{Name: name, Fields: fields})
	input := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   "input" + name,
		Fields: inputFields,
	})
	return obj, input
}

func scalarType(t reflect.Type) graphql.Output {
	switch t.Kind() {
	case reflect.Bool:
		return graphql.Boolean
	case reflect.Float32, reflect.Float64:
		return graphql.Float
	case reflect.String:
		return graphql.String
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return graphql.Int
	}
	return nil
}

// resolver reads field i of a struct or struct pointer source.
func resolver(i int) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		src := reflect.Indirect(reflect.ValueOf(p.Source))
		if src.Kind() != reflect.Struct {
			return nil, fmt.Errorf("cannot resolve a field of %#v", p.Source)
		}
		v := src.Field(i)
		switch v.Kind() {
		case reflect.String:
			return v.String(), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return int(v.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int(v.Uint()), nil
		}
		return v.Interface(), nil
	}
}

// setFields assigns graphql input values to the tagged fields of the struct dst points to.
func setFields(dst interface{}, args map[string]interface{}) error {
	elem := reflect.ValueOf(dst).Elem()
	tagMap := newJSONTagFieldMap(elem.Type())

	// sorted so that errors are reported deterministically
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, arg := range keys {
		i, ok := tagMap[arg]
		if !ok {
			return fmt.Errorf("unknown field %q", arg)
		}
		val := reflect.ValueOf(args[arg])
		field := elem.Field(i)
		if !val.IsValid() || !val.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("field %q: cannot use %v as %v", arg, args[arg], field.Type())
		}
		field.Set(val.Convert(field.Type()))
	}
	return nil
}

func jsonTag(f *reflect.StructField) string {
	t := f.Tag.Get("json")
	return strings.Split(t, ",")[0]
}

func newJSONTagFieldMap(ref reflect.Type) map[string]int {
	m := make(map[string]int)
	for i := 0; i < ref.NumField(); i++ {
		f := ref.Field(i)
		if tag := jsonTag(&f); tag != "" && tag != "-" {
			m[tag] = i
		}
	}
	return m
}
