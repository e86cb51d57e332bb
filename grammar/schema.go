// schema.go - JSON-Schema zu GBNF Kompilierung
// Uebersetzt ein JSON-Schema in eine Grammatik, die genau die vom Schema
// geforderten Dokumente zulaesst. Objekte erzwingen ihre deklarierten
// Properties als Literal-Keys in Deklarations-Reihenfolge. Konstrukte, die
// der Kompiler nicht kennt, degradieren zur permissiven json-Produktion -
// eine bewusste, konservative Schwaechung. Der Strict-Modus macht daraus
// einen Fehler statt einer Degradation.
package grammar

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/7blacky7/infera/api"
)

// jsonSchema ist die Teilmenge von JSON-Schema, die der Kompiler versteht.
// Properties bleibt roh, damit die Deklarations-Reihenfolge der Keys beim
// Uebersetzen erhalten bleibt (encoding/json-Maps verlieren sie).
type jsonSchema struct {
	Type       any             `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Items      *jsonSchema     `json:"items"`
	Required   []string        `json:"required"`
	Enum       []any           `json:"enum"`
}

// FromJSONSchema kompiliert ein JSON-Schema zu einer Grammatik. Unbekannte
// Schema-Konstrukte degradieren zur permissiven json-Produktion.
func FromJSONSchema(schema []byte) (*Grammar, error) {
	return fromJSONSchema(schema, false)
}

// FromJSONSchemaStrict kompiliert ein JSON-Schema und lehnt unbekannte
// Konstrukte ab statt zu degradieren.
func FromJSONSchemaStrict(schema []byte) (*Grammar, error) {
	return fromJSONSchema(schema, true)
}

func fromJSONSchema(schema []byte, strict bool) (*Grammar, error) {
	var s jsonSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrSchema, err)
	}

	b := newBuilder(strict)
	root, err := b.valueRule(&s)
	if err != nil {
		return nil, err
	}
	b.alias("root", root)

	return Compile(b.text(), "root")
}

// ---------------------------------------------------------------------------
// Builder

type builder struct {
	strict bool
	// rules in Emissions-Reihenfolge, primitives dedupliziert
	names []string
	prods map[string]string
	count int
}

func newBuilder(strict bool) *builder {
	return &builder{strict: strict, prods: map[string]string{}}
}

func (b *builder) add(name, production string) string {
	if _, ok := b.prods[name]; !ok {
		b.names = append(b.names, name)
		b.prods[name] = production
	}
	return name
}

func (b *builder) alias(name, target string) {
	// root zuerst ausgeben
	b.names = append([]string{name}, b.names...)
	b.prods[name] = target
}

func (b *builder) fresh(prefix string) string {
	b.count++
	return fmt.Sprintf("%s-%d", prefix, b.count)
}

func (b *builder) text() string {
	var sb strings.Builder
	for _, name := range b.names {
		fmt.Fprintf(&sb, "%s ::= %s\n", name, b.prods[name])
	}
	return sb.String()
}

// valueRule gibt den Regelnamen fuer ein (Teil-)Schema zurueck.
func (b *builder) valueRule(s *jsonSchema) (string, error) {
	if s == nil {
		return b.permissive("missing subschema")
	}

	if len(s.Enum) > 0 {
		return b.enumRule(s.Enum)
	}

	typ, ok := s.Type.(string)
	if !ok {
		if s.Type == nil {
			return b.permissive("schema without type")
		}
		// z.B. type: ["string","null"]
		return b.permissive(fmt.Sprintf("unsupported type %v", s.Type))
	}

	switch typ {
	case "string":
		return b.stringRule(), nil
	case "number":
		return b.numberRule(), nil
	case "integer":
		return b.integerRule(), nil
	case "boolean":
		return b.add("boolean", `"true" | "false"`), nil
	case "null":
		return b.add("null", `"null"`), nil
	case "array":
		return b.arrayRule(s)
	case "object":
		return b.objectRule(s)
	default:
		return b.permissive(fmt.Sprintf("unknown type %q", typ))
	}
}

// objectRule erzwingt alle deklarierten Properties als Literal-Keys in
// Deklarations-Reihenfolge, komma-separiert zwischen "{" und "}".
func (b *builder) objectRule(s *jsonSchema) (string, error) {
	if len(s.Properties) == 0 {
		// Objekt ohne deklarierte Properties: beliebiges JSON-Objekt
		return b.jsonObjectRule(), nil
	}

	b.wsRule()
	keys, subs, err := decodeProperties(s.Properties)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return b.add(b.fresh("object"), `"{" ws "}"`), nil
	}

	var sb strings.Builder
	sb.WriteString(`"{" ws `)
	for i, key := range keys {
		if i > 0 {
			sb.WriteString(` "," ws `)
		}
		valRule, err := b.valueRule(subs[i])
		if err != nil {
			return "", err
		}
		jsonKey, _ := json.Marshal(key)
		fmt.Fprintf(&sb, `%s ws ":" ws %s ws`, Literal(string(jsonKey)), valRule)
	}
	sb.WriteString(` "}"`)

	return b.add(b.fresh("object"), sb.String()), nil
}

func (b *builder) arrayRule(s *jsonSchema) (string, error) {
	if s.Items == nil {
		return b.jsonArrayRule(), nil
	}
	item, err := b.valueRule(s.Items)
	if err != nil {
		return "", err
	}
	b.wsRule()
	prod := fmt.Sprintf(`"[" ws (%s ws ("," ws %s ws)*)? "]"`, item, item)
	return b.add(b.fresh("array"), prod), nil
}

// enumRule erzeugt eine Literal-Alternation der erlaubten Werte.
func (b *builder) enumRule(values []any) (string, error) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		enc, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: enum value: %v", api.ErrSchema, err)
		}
		parts = append(parts, Literal(string(enc)))
	}
	return b.add(b.fresh("enum"), strings.Join(parts, " | ")), nil
}

// permissive faellt auf die maximal permissive json-Produktion zurueck
// (bzw. lehnt im Strict-Modus ab).
func (b *builder) permissive(reason string) (string, error) {
	if b.strict {
		return "", fmt.Errorf("%w: %s", api.ErrSchema, reason)
	}
	return b.jsonRule(), nil
}

// ---------------------------------------------------------------------------
// Primitive Produktionen (identisch zur Standard-JSON-Grammatik)

func (b *builder) wsRule() string {
	return b.add("ws", `[ \t\n]*`)
}

func (b *builder) stringRule() string {
	b.add("string-char", `[^"\\] | "\\" (["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F])`)
	return b.add("string", `"\"" string-char* "\""`)
}

func (b *builder) numberRule() string {
	return b.add("number", `"-"? ("0" | [1-9] [0-9]*) ("." [0-9]+)? ([eE] [-+]? [0-9]+)?`)
}

func (b *builder) integerRule() string {
	return b.add("integer", `"-"? ("0" | [1-9] [0-9]*)`)
}

func (b *builder) jsonObjectRule() string {
	b.jsonRule()
	return "json-object"
}

func (b *builder) jsonArrayRule() string {
	b.jsonRule()
	return "json-array"
}

// jsonRule emittiert die zusammenhaengende permissive JSON-Grammatik.
func (b *builder) jsonRule() string {
	b.wsRule()
	b.stringRule()
	b.numberRule()
	b.add("boolean", `"true" | "false"`)
	b.add("null", `"null"`)
	b.add("json", `json-object | json-array | string | number | boolean | null`)
	b.add("json-member", `string ws ":" ws json`)
	b.add("json-object", `"{" ws (json-member ws ("," ws json-member ws)*)? "}"`)
	b.add("json-array", `"[" ws (json ws ("," ws json ws)*)? "]"`)
	return "json"
}

// ---------------------------------------------------------------------------

// Literal escapet s als GBNF-String-Literal. Quotes und Backslashes des
// eingebetteten Texts duerfen die Grammatik nie verlassen koennen -
// ungeprueft uebernommener Schema-Text waere sonst injizierbar.
func Literal(s string) string {
	var sb bytes.Buffer
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, `\u%04X`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// decodeProperties liest die Property-Namen in Deklarations-Reihenfolge und
// parst jedes Sub-Schema.
func decodeProperties(raw json.RawMessage) ([]string, []*jsonSchema, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: properties: %v", api.ErrSchema, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("%w: properties must be an object", api.ErrSchema)
	}

	var keys []string
	var subs []*jsonSchema
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: properties: %v", api.ErrSchema, err)
		}
		key := tok.(string)

		var sub jsonSchema
		if err := dec.Decode(&sub); err != nil {
			return nil, nil, fmt.Errorf("%w: property %q: %v", api.ErrSchema, key, err)
		}
		keys = append(keys, key)
		subs = append(subs, &sub)
	}

	return keys, subs, nil
}
