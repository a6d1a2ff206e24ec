// Package slab implements a stable-index table with recycled,
// generation-checked slots.
package slab

import "fmt"

// Token identifies a table slot. The generation changes every time the
// slot is reused, so a token kept past Remove is detected as stale.
type Token struct {
	index uint32
	gen   uint32
}

// FromUint64 unpacks a token previously packed with Uint64.
func FromUint64(v uint64) Token {
	return Token{index: uint32(v), gen: uint32(v >> 32)}
}

// Uint64 packs the token into a single word, e.g. for poller user data.
func (t Token) Uint64() uint64 {
	return uint64(t.gen)<<32 | uint64(t.index)
}

func (t Token) Index() int { return int(t.index) }

func (t Token) String() string {
	return fmt.Sprintf("%d/%d", t.index, t.gen)
}

type slot[T any] struct {
	val  T
	gen  uint32
	used bool
}

// Table owns its entries exclusively. It is not safe for concurrent use.
type Table[T any] struct {
	slots []slot[T]
	free  []uint32
	n     int
}

// New returns a table with room for capacity entries before growing.
func New[T any](capacity int) *Table[T] {
	return &Table[T]{slots: make([]slot[T], 0, capacity)}
}

func (t *Table[T]) Insert(v T) Token {
	return t.InsertWith(func(Token) T { return v })
}

// InsertWith reserves a slot and stores the value built from its token.
func (t *Table[T]) InsertWith(build func(Token) T) Token {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot[T]{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	tok := Token{index: idx, gen: s.gen}
	s.val = build(tok)
	s.used = true
	t.n++
	return tok
}

// Remove frees the slot and returns the value it held. Removing a stale
// token panics.
func (t *Table[T]) Remove(tok Token) T {
	s := t.mustSlot(tok)
	v := s.val
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	t.free = append(t.free, tok.index)
	t.n--
	return v
}

// Get returns the live value for tok and panics if tok is stale.
func (t *Table[T]) Get(tok Token) T {
	return t.mustSlot(tok).val
}

// Lookup is the non-panicking form of Get.
func (t *Table[T]) Lookup(tok Token) (T, bool) {
	if s, ok := t.slot(tok); ok {
		return s.val, true
	}
	var zero T
	return zero, false
}

func (t *Table[T]) Contains(tok Token) bool {
	_, ok := t.slot(tok)
	return ok
}

func (t *Table[T]) Len() int { return t.n }

// Each calls fn for every live entry in slot order. fn must not insert or
// remove entries.
func (t *Table[T]) Each(fn func(Token, T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.used {
			fn(Token{index: uint32(i), gen: s.gen}, s.val)
		}
	}
}

func (t *Table[T]) slot(tok Token) (*slot[T], bool) {
	if int(tok.index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[tok.index]
	if !s.used || s.gen != tok.gen {
		return nil, false
	}
	return s, true
}

func (t *Table[T]) mustSlot(tok Token) *slot[T] {
	s, ok := t.slot(tok)
	if !ok {
		panic(fmt.Sprintf("slab: stale token %s", tok))
	}
	return s
}
