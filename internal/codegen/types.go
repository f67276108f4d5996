package codegen

import (
	"fmt"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/types/typeutil"
)

const (
	lightrpcPackagePath = "github.com/kanengo/lightrpc"
)

// typeSet holds the type information needed while generating one package.
type typeSet struct {
	pkg            *packages.Package
	imported       []importPkg
	importedByPath map[string]importPkg
	importedByName map[string]importPkg
	checked        typeutil.Map
}

// importPkg is a package imported by the generated code.
type importPkg struct {
	path  string // e.g., "github.com/kanengo/lightrpc/runtime/codegen"
	pkg   string // e.g., "codegen", "context", "time"
	alias string // e.g., foo in `import foo "context"`
	local bool   // the package being generated
}

func (i importPkg) name() string {
	if i.local {
		return ""
	} else if i.alias != "" {
		return i.alias
	}
	return i.pkg
}

func (i importPkg) qualify(member string) string {
	if i.local {
		return member
	}

	return fmt.Sprintf("%s.%s", i.name(), member)
}

func newTypeSet(pkg *packages.Package) *typeSet {
	return &typeSet{
		pkg:            pkg,
		imported:       []importPkg{},
		importedByPath: make(map[string]importPkg),
		importedByName: make(map[string]importPkg),
	}
}

func isInvalid(t types.Type) bool {
	return t.String() == "invalid type"
}

func isContext(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}

	return named.Obj().Pkg().Path() == "context" && named.Obj().Name() == "Context"
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

// checkSerializable reports why values of t cannot be passed to a codec.
// Interfaces, channels and functions cannot; everything built from basic
// types, structs, slices, arrays, maps and pointers can.
func (tSet *typeSet) checkSerializable(t types.Type) []error {
	type pathAndType struct {
		path string
		t    types.Type
	}
	var lineage []pathAndType

	var errors []error

	addError := func(err error) {
		var builder strings.Builder

		if len(lineage) > 1 {
			_, _ = fmt.Fprintf(&builder, "\n    ")
			for i, pn := range lineage {
				_, _ = fmt.Fprintf(&builder, "%v (type %v)", pn.path, pn.t.String())
				if i < len(lineage)-1 {
					_, _ = fmt.Fprintf(&builder, "\n    ")
				}
			}
		}

		qualifier := func(pkg *types.Package) string {
			return pkg.Name()
		}
		err = fmt.Errorf("%s: %w%s", types.TypeString(t, qualifier), err, builder.String())
		errors = append(errors, err)
	}

	var stack typeutil.Map

	var check func(t types.Type, path string, record bool) bool

	check = func(t types.Type, path string, record bool) bool {
		if record {
			lineage = append(lineage, pathAndType{path: path, t: t})
			defer func() {
				lineage = lineage[:len(lineage)-1]
			}()
		}

		if result := tSet.checked.At(t); result != nil {
			if result.(bool) {
				return true
			}
			addError(fmt.Errorf("not a serializable type"))
			return false
		}

		// Recursive types are fine for the codecs; stop descending.
		if stack.At(t) != nil {
			return true
		}
		stack.Set(t, struct{}{})
		defer func() { stack.Delete(t) }()

		switch x := t.(type) {
		case *types.Named:
			tSet.checked.Set(t, check(x.Underlying(), path, false))
		case *types.Interface:
			addError(fmt.Errorf("serialization of interfaces not supported"))
			tSet.checked.Set(t, false)
		case *types.Struct:
			serializable := true
			for i := 0; i < x.NumFields(); i++ {
				f := x.Field(i)
				if !f.Exported() {
					continue
				}
				ok := check(f.Type(), fmt.Sprintf("%s.%s", path, f.Name()), true)
				serializable = serializable && ok
			}
			tSet.checked.Set(t, serializable)
		case *types.Basic:
			switch x.Kind() {
			case types.Bool,
				types.Int, types.Int8, types.Int16, types.Int32, types.Int64,
				types.Uint, types.Uint8, types.Uint16, types.Uint32, types.Uint64,
				types.Float32, types.Float64,
				types.String:
				tSet.checked.Set(t, true)
			default:
				if isInvalid(t) {
					addError(fmt.Errorf("maybe you forgot to run `go mod tidy`?"))
				} else {
					addError(fmt.Errorf("unsupported basic type"))
				}
				return false
			}
		case *types.Array:
			tSet.checked.Set(t, check(x.Elem(), path+"[0]", true))
		case *types.Slice:
			tSet.checked.Set(t, check(x.Elem(), path+"[0]", true))
		case *types.Pointer:
			tSet.checked.Set(t, check(x.Elem(), "(*"+path+")", true))
		case *types.Map:
			keySerializable := check(x.Key(), path+".key", true)
			valueSerializable := check(x.Elem(), path+".value", true)
			tSet.checked.Set(t, keySerializable && valueSerializable)
		default:
			addError(fmt.Errorf("not a serializable type"))
			return false
		}

		return tSet.checked.At(t).(bool)
	}

	check(t, t.String(), true)
	return errors
}

func (tSet *typeSet) importPackage(path, pkg string) importPkg {
	newImportPkg := func(path, pkg, alias string, local bool) importPkg {
		i := importPkg{
			path:  path,
			pkg:   pkg,
			alias: alias,
			local: local,
		}

		tSet.imported = append(tSet.imported, i)
		tSet.importedByPath[i.path] = i
		tSet.importedByName[i.name()] = i

		return i
	}

	if imp, ok := tSet.importedByPath[path]; ok {
		return imp
	}

	if _, ok := tSet.importedByName[pkg]; !ok {
		return newImportPkg(path, pkg, "", path == tSet.pkg.PkgPath)
	}

	var alias string
	counter := 1
	for {
		alias = fmt.Sprintf("%s%d", pkg, counter)
		if _, ok := tSet.importedByName[alias]; !ok {
			break
		}
		counter += 1
	}

	return newImportPkg(path, pkg, alias, path == tSet.pkg.PkgPath)
}

// imports returns the imported packages, ordered by path.
func (tSet *typeSet) imports() []importPkg {
	imports := make([]importPkg, len(tSet.imported))
	copy(imports, tSet.imported)
	sort.Slice(imports, func(i, j int) bool {
		return imports[i].path < imports[j].path
	})
	return imports
}

// genTypeString returns the spelling of t in the generated file, importing
// the packages it mentions.
func (tSet *typeSet) genTypeString(t types.Type) string {
	qualifier := func(pkg *types.Package) string {
		if pkg == tSet.pkg.Types {
			return ""
		}
		return tSet.importPackage(pkg.Path(), pkg.Name()).name()
	}

	return types.TypeString(t, qualifier)
}
