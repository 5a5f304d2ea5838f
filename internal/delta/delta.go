// Package delta implements the content-delta model for collaborative
// documents: ordered insert/retain/delete operations, sequential
// composition, and application to plain text. A document is an append-only
// log of such deltas; composing them in append order yields current state.
package delta

import "strings"

// Op is a single operation against a position offset. Exactly one of the
// fields is meaningful: Insert when non-empty, else Retain when positive,
// else Delete when positive.
type Op struct {
	Insert string `msgpack:"insert,omitempty"`
	Retain int    `msgpack:"retain,omitempty"`
	Delete int    `msgpack:"delete,omitempty"`
}

func (o Op) isInsert() bool { return o.Insert != "" }
func (o Op) isRetain() bool { return !o.isInsert() && o.Retain > 0 }
func (o Op) isDelete() bool { return !o.isInsert() && o.Retain == 0 && o.Delete > 0 }

// length is the op's extent in runes.
func (o Op) length() int {
	if o.isInsert() {
		return len([]rune(o.Insert))
	}
	if o.isRetain() {
		return o.Retain
	}
	return o.Delete
}

// Delta is an ordered list of operations.
type Delta struct {
	Ops []Op `msgpack:"ops"`
}

// New returns an empty delta.
func New() Delta {
	return Delta{}
}

// FromText returns a delta that inserts the given text.
func FromText(text string) Delta {
	if text == "" {
		return Delta{}
	}
	return Delta{Ops: []Op{{Insert: text}}}
}

// IsEmpty reports whether the delta contributes nothing.
func (d Delta) IsEmpty() bool {
	return len(d.Ops) == 0
}

// PlainText renders the delta's inserted content, ignoring retains and
// deletes. Only meaningful for document-state deltas (all inserts).
func (d Delta) PlainText() string {
	var b strings.Builder
	for _, op := range d.Ops {
		if op.isInsert() {
			b.WriteString(op.Insert)
		}
	}
	return b.String()
}

// Apply transforms base text with the delta's operations.
// Out-of-range retains and deletes are clamped to the text's end.
func Apply(base string, d Delta) string {
	runes := []rune(base)
	out := make([]rune, 0, len(runes))
	pos := 0

	for _, op := range d.Ops {
		switch {
		case op.isInsert():
			out = append(out, []rune(op.Insert)...)
		case op.isRetain():
			end := min(pos+op.Retain, len(runes))
			out = append(out, runes[pos:end]...)
			pos = end
		case op.isDelete():
			pos = min(pos+op.Delete, len(runes))
		}
	}

	out = append(out, runes[pos:]...)
	return string(out)
}

// Compose combines two sequential deltas into one equivalent delta:
// applying the result equals applying a then b.
func Compose(a, b Delta) Delta {
	ia := newIterator(a.Ops)
	ib := newIterator(b.Ops)

	var out []Op
	for ia.hasNext() || ib.hasNext() {
		switch {
		case ib.hasNext() && ib.peek().isInsert():
			out = push(out, ib.next(-1))
		case !ib.hasNext():
			out = push(out, ia.next(-1))
		case !ia.hasNext():
			out = push(out, ib.next(-1))
		case ia.peek().isDelete():
			// a's deletions act on text b never saw; they pass through.
			out = push(out, ia.next(-1))
		default:
			n := min(ia.peekLen(), ib.peekLen())
			opA := ia.next(n)
			opB := ib.next(n)
			switch {
			case opB.isRetain():
				out = push(out, opA)
			case opB.isDelete() && opA.isRetain():
				out = push(out, Op{Delete: n})
			default:
				// b deletes what a inserted: both cancel.
			}
		}
	}

	return Delta{Ops: chop(out)}
}

// ComposeAll folds deltas left to right.
func ComposeAll(deltas []Delta) Delta {
	out := New()
	for _, d := range deltas {
		out = Compose(out, d)
	}
	return out
}

// push appends op to ops, merging it into the previous op when both are the
// same kind.
func push(ops []Op, op Op) []Op {
	if op.length() == 0 {
		return ops
	}
	if n := len(ops); n > 0 {
		last := &ops[n-1]
		switch {
		case op.isInsert() && last.isInsert():
			last.Insert += op.Insert
			return ops
		case op.isRetain() && last.isRetain():
			last.Retain += op.Retain
			return ops
		case op.isDelete() && last.isDelete():
			last.Delete += op.Delete
			return ops
		}
	}
	return append(ops, op)
}

// chop removes a trailing retain, which carries no information.
func chop(ops []Op) []Op {
	if n := len(ops); n > 0 && ops[n-1].isRetain() {
		return ops[:n-1]
	}
	return ops
}

// iterator walks a list of ops, splitting them at arbitrary offsets.
type iterator struct {
	ops    []Op
	i      int
	offset int
}

func newIterator(ops []Op) *iterator {
	return &iterator{ops: ops}
}

func (it *iterator) hasNext() bool {
	return it.i < len(it.ops)
}

func (it *iterator) peek() Op {
	return it.ops[it.i]
}

func (it *iterator) peekLen() int {
	return it.ops[it.i].length() - it.offset
}

// next consumes up to n of the current op, or the whole remainder when
// n < 0 or n exceeds what is left.
func (it *iterator) next(n int) Op {
	op := it.ops[it.i]
	remaining := op.length() - it.offset

	if n < 0 || n >= remaining {
		n = remaining
	}

	var out Op
	switch {
	case op.isInsert():
		runes := []rune(op.Insert)
		out = Op{Insert: string(runes[it.offset : it.offset+n])}
	case op.isRetain():
		out = Op{Retain: n}
	default:
		out = Op{Delete: n}
	}

	if n == remaining {
		it.i++
		it.offset = 0
	} else {
		it.offset += n
	}
	return out
}
