package grammar

import (
	"fmt"
	"strings"
)

// GBNF renders s as a llama.cpp grammar with a single "root" rule.
func (s *Schema) GBNF() string {
	g := gbnfWriter{names: map[*Schema]string{}}
	root := g.rule(s)
	var b strings.Builder
	fmt.Fprintf(&b, "root ::= %s\n", root)
	for _, r := range g.rules {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String()
}

type gbnfWriter struct {
	names map[*Schema]string
	rules []string
}

func (g *gbnfWriter) rule(s *Schema) string {
	if name, ok := g.names[s]; ok {
		return name
	}
	name := fmt.Sprintf("%s%d", kindPrefix(s.Kind), len(g.names))
	g.names[s] = name

	var body string
	switch s.Kind {
	case KindObject:
		parts := make([]string, 0, 2*len(s.Fields)+1)
		for i, f := range s.Fields {
			parts = append(parts, quote(objectLiteral(s, i)), g.rule(f.Schema))
		}
		parts = append(parts, quote(objectLiteral(s, len(s.Fields))))
		body = strings.Join(parts, " ")
	case KindArray:
		if s.MaxItems <= 0 {
			body = `"[" "]"`
			break
		}
		item := g.rule(s.Items)
		body = fmt.Sprintf(`"[" ( %s ( "," %s ){0,%d} )? "]"`, item, item, s.MaxItems-1)
	case KindString:
		body = fmt.Sprintf(`"\"" [ !#-[\]-~]{0,%d} "\""`, s.MaxLength)
	case KindNumber:
		body = fmt.Sprintf(`"-"? ( "0" | [1-9] [0-9]{0,%d} )`, s.MaxDigits-1)
	}
	g.rules = append(g.rules, name+" ::= "+body)
	return name
}

func kindPrefix(k Kind) string {
	switch k {
	case KindObject:
		return "obj"
	case KindArray:
		return "arr"
	case KindString:
		return "str"
	default:
		return "num"
	}
}

func quote(lit string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(lit) + `"`
}
