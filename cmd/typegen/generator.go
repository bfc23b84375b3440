package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
)

type structInfo struct {
	key    string // "dir:Name"
	fields []fieldInfo
}

type fieldInfo struct {
	jsonName  string
	goType    string
	qualified string // "dir:Name" when the type comes from another package of the module
	optional  bool
}

// primitives maps Go type strings to TypeScript type strings.
var primitives = map[string]string{
	"string":                 "string",
	"int":                    "number",
	"int64":                  "number",
	"uint64":                 "number",
	"float32":                "number",
	"float64":                "number",
	"bool":                   "boolean",
	"any":                    "unknown",
	"interface{}":            "unknown",
	"json.RawMessage":        "unknown",
	"time.Time":              "string",
	"time.Duration":          "number",
	"map[string]string":      "Record<string, string>",
	"map[string]float64":     "Record<string, number>",
	"map[string]any":         "Record<string, unknown>",
	"map[string]interface{}": "Record<string, unknown>",
}

// generator collects declarations from every package under a root and
// renders them as TypeScript.
type generator struct {
	structs  map[string]*structInfo // plain and "dir:Name" keys
	aliases  map[string]string      // named type -> underlying primitive
	consts   map[string][]string    // named type -> declared string values
	eventIDs map[string]string      // "dir:Name" -> GetId() literal
	tsNames  map[string]string      // Go struct key -> TS interface name
}

func newGenerator() *generator {
	return &generator{
		structs:  map[string]*structInfo{},
		aliases:  map[string]string{},
		consts:   map[string][]string{},
		eventIDs: map[string]string{},
		tsNames:  map[string]string{},
	}
}

// Load parses every non-test Go file below root.
func (g *generator) Load(root string) error {
	dirs, err := discoverGoDirs(root)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		rel, _ := filepath.Rel(root, dir)
		if err := g.parseDir(dir, filepath.ToSlash(rel)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", dir, err)
		}
	}
	for _, key := range configStructs {
		name := tsNameFor(key)
		g.tsNames[key] = name
		if !strings.Contains(key, ":") {
			if si, ok := g.structs[key]; ok {
				g.tsNames[si.key] = name
			}
		}
	}
	for key, id := range g.eventIDs {
		g.tsNames[key] = eventTSName(id)
	}
	return nil
}

func discoverGoDirs(root string) ([]string, error) {
	skip := map[string]bool{"vendor": true, "node_modules": true, ".git": true, "_examples": true, "typegen": true}
	seen := map[string]bool{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if skip[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (g *generator) parseDir(dir, rel string) error {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(fset, dir, func(fi os.FileInfo) bool {
		return !strings.HasSuffix(fi.Name(), "_test.go")
	}, 0)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		for _, file := range pkg.Files {
			imports := moduleImports(file)
			for _, decl := range file.Decls {
				switch d := decl.(type) {
				case *ast.GenDecl:
					g.genDecl(d, rel, imports)
				case *ast.FuncDecl:
					g.funcDecl(d, rel)
				}
			}
		}
	}
	return nil
}

// moduleImports maps the local name of every in-module import to its
// directory relative to the module root.
func moduleImports(file *ast.File) map[string]string {
	out := map[string]string{}
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		rel, ok := strings.CutPrefix(path, modulePath+"/")
		if !ok {
			continue
		}
		name := rel[strings.LastIndex(rel, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		out[name] = rel
	}
	return out
}

func (g *generator) genDecl(d *ast.GenDecl, rel string, imports map[string]string) {
	switch d.Tok {
	case token.TYPE:
		for _, spec := range d.Specs {
			ts := spec.(*ast.TypeSpec)
			switch t := ts.Type.(type) {
			case *ast.Ident:
				g.aliases[ts.Name.Name] = t.Name
			case *ast.StructType:
				si := parseStruct(ts.Name.Name, t, rel, imports)
				g.structs[rel+":"+ts.Name.Name] = si
				if _, taken := g.structs[ts.Name.Name]; !taken {
					g.structs[ts.Name.Name] = si
				}
			}
		}
	case token.CONST:
		for _, spec := range d.Specs {
			vs := spec.(*ast.ValueSpec)
			if vs.Type == nil {
				continue
			}
			typeName := exprString(vs.Type)
			for _, v := range vs.Values {
				if lit, ok := v.(*ast.BasicLit); ok && lit.Kind == token.STRING {
					g.consts[typeName] = append(g.consts[typeName], strings.Trim(lit.Value, `"`))
				}
			}
		}
	}
}

// funcDecl records `func (e *X) GetId() string { return "stage.name" }`.
func (g *generator) funcDecl(d *ast.FuncDecl, rel string) {
	if d.Name.Name != "GetId" || d.Recv == nil || len(d.Recv.List) != 1 || d.Body == nil || len(d.Body.List) != 1 {
		return
	}
	ret, ok := d.Body.List[0].(*ast.ReturnStmt)
	if !ok || len(ret.Results) != 1 {
		return
	}
	lit, ok := ret.Results[0].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	recv := strings.TrimPrefix(exprString(d.Recv.List[0].Type), "*")
	g.eventIDs[rel+":"+recv] = strings.Trim(lit.Value, `"`)
}

func parseStruct(name string, st *ast.StructType, rel string, imports map[string]string) *structInfo {
	si := &structInfo{key: rel + ":" + name}
	for _, field := range st.Fields.List {
		if field.Tag == nil {
			continue
		}
		tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
		parts := strings.Split(tag.Get("json"), ",")
		if parts[0] == "" || parts[0] == "-" || isSecret(parts[0]) {
			continue
		}
		_, pointer := field.Type.(*ast.StarExpr)
		fi := fieldInfo{jsonName: parts[0], goType: exprString(field.Type), optional: pointer}
		fi.qualified = qualify(fi.goType, rel, imports)
		for _, p := range parts[1:] {
			if p == "omitempty" {
				fi.optional = true
			}
		}
		si.fields = append(si.fields, fi)
	}
	return si
}

// qualify returns the "dir:Name" key of a named struct type, or "".
func qualify(goType, rel string, imports map[string]string) string {
	clean := strings.TrimLeft(goType, "*[]")
	if strings.HasPrefix(clean, "map[") {
		return ""
	}
	if pkg, name, ok := strings.Cut(clean, "."); ok {
		if dir, found := imports[pkg]; found {
			return dir + ":" + name
		}
		return ""
	}
	return rel + ":" + clean
}

func isSecret(jsonName string) bool {
	return jsonName == "api_key" || jsonName == "api_secret"
}

func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	case *ast.MapType:
		return "map[" + exprString(t.Key) + "]" + exprString(t.Value)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}

// fieldType prefers the package-qualified struct name so that same-named
// structs from different packages resolve to their own interfaces.
func (g *generator) fieldType(f fieldInfo) string {
	if ts, ok := g.tsNames[f.qualified]; ok && f.qualified != "" {
		clean := strings.TrimPrefix(f.goType, "*")
		for strings.HasPrefix(clean, "[]") {
			clean = clean[2:]
			ts += "[]"
		}
		return ts
	}
	return g.resolve(f.goType)
}

// resolve converts a Go type string to a TypeScript type string.
func (g *generator) resolve(goType string) string {
	clean := strings.TrimPrefix(goType, "*")
	if ts, ok := primitives[clean]; ok {
		return ts
	}
	if strings.HasPrefix(clean, "[]") {
		inner := g.resolve(clean[2:])
		if strings.Contains(inner, "|") {
			return "(" + inner + ")[]"
		}
		return inner + "[]"
	}
	if strings.HasPrefix(clean, "map[") {
		return "Record<string, unknown>"
	}
	short := clean
	if idx := strings.LastIndex(clean, "."); idx >= 0 {
		short = clean[idx+1:]
	}
	if ts, ok := g.tsNames[short]; ok {
		return ts
	}
	if vals := g.consts[short]; len(vals) > 0 {
		quoted := make([]string, len(vals))
		for i, v := range vals {
			quoted[i] = "'" + v + "'"
		}
		return strings.Join(quoted, " | ")
	}
	if underlying, ok := g.aliases[short]; ok {
		return g.resolve(underlying)
	}
	return "unknown"
}

// Render writes the config interfaces, one interface per event, and the
// envelope unions for both directions of the websocket.
func (g *generator) Render() []byte {
	var buf bytes.Buffer
	buf.WriteString("// Code generated by cmd/typegen; DO NOT EDIT.\n")
	buf.WriteString("//\n")
	buf.WriteString("// Regenerate: go run ./cmd/typegen -out ui/src/types/generated.ts\n\n")

	for _, key := range configStructs {
		si, ok := g.structs[key]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: struct %q not found, skipping\n", key)
			continue
		}
		g.writeInterface(&buf, g.tsNames[key], key, si)
	}

	keys := make([]string, 0, len(g.eventIDs))
	for key := range g.eventIDs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return g.eventIDs[keys[i]] < g.eventIDs[keys[j]] })

	var inbound, outbound []string
	for _, key := range keys {
		si, ok := g.structs[key]
		if !ok {
			continue
		}
		id := g.eventIDs[key]
		g.writeInterface(&buf, g.tsNames[key], key, si)
		member := fmt.Sprintf("  | { type: '%s'; payload: %s }", id, g.tsNames[key])
		if strings.HasPrefix(id, "input.") {
			inbound = append(inbound, member)
		} else {
			outbound = append(outbound, member)
		}
	}
	writeUnion(&buf, "InputMessage", inbound)
	writeUnion(&buf, "ServerEvent", outbound)
	return buf.Bytes()
}

func (g *generator) writeInterface(buf *bytes.Buffer, tsName, goKey string, si *structInfo) {
	fmt.Fprintf(buf, "/** Generated from Go struct: %s */\n", goKey)
	if len(si.fields) == 0 {
		fmt.Fprintf(buf, "export type %s = Record<string, never>\n\n", tsName)
		return
	}
	required := requiredFields[tsName]
	fmt.Fprintf(buf, "export interface %s {\n", tsName)
	for _, f := range si.fields {
		opt := ""
		if f.optional || (configTypes[tsName] && !required[f.jsonName]) {
			opt = "?"
		}
		fmt.Fprintf(buf, "  %s%s: %s\n", f.jsonName, opt, g.fieldType(f))
	}
	buf.WriteString("}\n\n")
}

func writeUnion(buf *bytes.Buffer, name string, members []string) {
	if len(members) == 0 {
		return
	}
	fmt.Fprintf(buf, "export type %s =\n%s\n\n", name, strings.Join(members, "\n"))
}

// eventTSName turns "tts.word_index" into "TtsWordIndexEvent".
func eventTSName(id string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(id, func(r rune) bool { return r == '.' || r == '_' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	b.WriteString("Event")
	return b.String()
}

func tsNameFor(key string) string {
	if name, ok := tsRenames[key]; ok {
		return name
	}
	if idx := strings.LastIndex(key, ":"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
