package grammar

// Matcher tracks a partial document against a Schema one byte at a time.
// Accept and Allows never leave the matcher in a half-advanced state: input
// that would be rejected has no effect.
type Matcher struct {
	stack []frame
}

type frame struct {
	node  *Schema
	phase int
	pos   int // object: offset into the current key literal
	n     int // array items, string length or number digits
}

const (
	numStart = iota
	numSign
	numDigits
	numZero
)

const (
	arrOpen = iota
	arrFirst
	arrAfterItem
)

func NewMatcher(s *Schema) *Matcher {
	return &Matcher{stack: []frame{{node: s}}}
}

func (m *Matcher) Clone() *Matcher {
	c := &Matcher{stack: make([]frame, len(m.stack))}
	copy(c.stack, m.stack)
	return c
}

// Allows reports whether p could be appended to the current prefix.
func (m *Matcher) Allows(p []byte) bool {
	return m.Clone().feedAll(p)
}

// Accept appends p if it keeps the document a valid prefix.
func (m *Matcher) Accept(p []byte) bool {
	c := m.Clone()
	if !c.feedAll(p) {
		return false
	}
	m.stack = c.stack
	return true
}

// Complete reports whether the bytes seen so far form a whole document.
func (m *Matcher) Complete() bool {
	switch len(m.stack) {
	case 0:
		return true
	case 1:
		f := m.stack[0]
		return f.node.Kind == KindNumber && (f.phase == numDigits || f.phase == numZero)
	default:
		return false
	}
}

func (m *Matcher) feedAll(p []byte) bool {
	for _, b := range p {
		if !m.feed(b) {
			return false
		}
	}
	return true
}

func (m *Matcher) feed(b byte) bool {
	for {
		if len(m.stack) == 0 {
			return false
		}
		top := len(m.stack) - 1
		f := &m.stack[top]
		switch f.node.Kind {
		case KindObject:
			return m.feedObject(top, b)
		case KindArray:
			switch f.phase {
			case arrOpen:
				if b != '[' {
					return false
				}
				f.phase = arrFirst
				return true
			case arrFirst:
				if b == ']' {
					m.pop()
					return true
				}
				if f.node.MaxItems <= 0 {
					return false
				}
				f.n = 1
				f.phase = arrAfterItem
				m.push(f.node.Items)
				// b opens the first item
				continue
			default:
				if b == ']' {
					m.pop()
					return true
				}
				if b == ',' && f.n < f.node.MaxItems {
					f.n++
					m.push(f.node.Items)
					return true
				}
				return false
			}
		case KindString:
			if f.phase == 0 {
				if b != '"' {
					return false
				}
				f.phase = 1
				return true
			}
			if b == '"' {
				m.pop()
				return true
			}
			if !printable(b) || f.n >= f.node.MaxLength {
				return false
			}
			f.n++
			return true
		case KindNumber:
			digit := b >= '0' && b <= '9'
			switch f.phase {
			case numStart, numSign:
				switch {
				case b == '-' && f.phase == numStart:
					f.phase = numSign
				case b == '0':
					f.phase = numZero
				case digit:
					f.phase = numDigits
					f.n = 1
				default:
					return false
				}
				return true
			case numDigits:
				if digit && f.n < f.node.MaxDigits {
					f.n++
					return true
				}
			}
			// The number ended; the byte belongs to the enclosing value.
			if len(m.stack) == 1 {
				return false
			}
			m.pop()
			continue
		default:
			return false
		}
	}
}

func (m *Matcher) feedObject(top int, b byte) bool {
	f := &m.stack[top]
	lit := objectLiteral(f.node, f.phase)
	if b != lit[f.pos] {
		return false
	}
	f.pos++
	if f.pos < len(lit) {
		return true
	}
	if f.phase == len(f.node.Fields) {
		m.pop()
		return true
	}
	value := f.node.Fields[f.phase].Schema
	f.phase++
	f.pos = 0
	m.push(value)
	return true
}

// objectLiteral returns the fixed text preceding field i, or the closing
// text when i == len(Fields).
func objectLiteral(s *Schema, i int) string {
	n := len(s.Fields)
	switch {
	case n == 0:
		return "{}"
	case i == n:
		return "}"
	case i == 0:
		return `{"` + s.Fields[i].Name + `":`
	default:
		return `,"` + s.Fields[i].Name + `":`
	}
}

func (m *Matcher) push(s *Schema) {
	m.stack = append(m.stack, frame{node: s})
}

func (m *Matcher) pop() {
	m.stack = m.stack[:len(m.stack)-1]
}

func printable(b byte) bool {
	return b >= 0x20 && b <= 0x7e && b != '"' && b != '\\'
}
