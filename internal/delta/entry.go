package delta

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Range is a cursor/selection event. It carries no persistent document
// state and is excluded from composition.
type Range struct {
	Index  int `msgpack:"index"`
	Length int `msgpack:"length"`
}

// Entry is one element of a document's append-only log: either a content
// delta or a selection event. The two are distinguished purely by the
// presence of a numeric position index.
type Entry struct {
	Ops    []Op `msgpack:"ops,omitempty"`
	Index  *int `msgpack:"index,omitempty"`
	Length int  `msgpack:"length,omitempty"`
}

// NewDeltaEntry wraps a content delta as a log entry.
func NewDeltaEntry(d Delta) Entry {
	return Entry{Ops: d.Ops}
}

// NewSelectionEntry wraps a selection event as a log entry.
func NewSelectionEntry(r Range) Entry {
	index := r.Index
	return Entry{Index: &index, Length: r.Length}
}

// IsSelection reports whether the entry is a cursor/selection event.
func (e Entry) IsSelection() bool {
	return e.Index != nil
}

// Delta returns the entry's content delta; empty for selection entries.
func (e Entry) Delta() Delta {
	if e.IsSelection() {
		return Delta{}
	}
	return Delta{Ops: e.Ops}
}

// Range returns the entry's selection event; zero for content entries.
func (e Entry) Range() Range {
	if !e.IsSelection() {
		return Range{}
	}
	return Range{Index: *e.Index, Length: e.Length}
}

// EncodeEntry serializes a log entry.
func EncodeEntry(e Entry) ([]byte, error) {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	return b, nil
}

// DecodeEntry deserializes a log entry. Callers are expected to degrade a
// failed decode to an empty entry rather than aborting the whole stream.
func DecodeEntry(b []byte) (Entry, error) {
	var e Entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("decode log entry: %w", err)
	}
	return e, nil
}
