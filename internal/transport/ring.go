package transport

import (
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrNotMember is returned for handles that do not name a live ring member.
	ErrNotMember = errors.New("transport: not a ring member") //nolint:gochecknoglobals // sentinel error
	// ErrAlreadyMember is returned when appending a descriptor that already sits in a ring.
	ErrAlreadyMember = errors.New("transport: already a ring member") //nolint:gochecknoglobals // sentinel error
)

const nilSlot = -1

// Handle names a ring slot. Handles of removed members go stale.
type Handle struct {
	slot int
	gen  uint32
}

// Valid reports whether h was ever issued by a ring.
func (h Handle) Valid() bool {
	return h.gen != 0
}

type node struct {
	d          *Descriptor
	next, prev int
	gen        uint32
	live       bool
}

// Ring is a circular doubly-linked list of descriptors backed by a slot table.
// The head doubles as the current transport. Not safe for concurrent mutation.
type Ring struct {
	nodes []node
	free  []int
	head  int
	size  int
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{head: nilSlot}
}

// Len returns the number of members.
func (r *Ring) Len() int {
	return r.size
}

// Empty reports whether the ring has no members.
func (r *Ring) Empty() bool {
	return r.size == 0
}

// Append inserts d at the tail, just before the head. The first member links to itself.
func (r *Ring) Append(d *Descriptor) (Handle, error) {
	if d.ring != nil {
		return Handle{}, fmt.Errorf("transport.Ring.Append(%s): %w", d.ID, ErrAlreadyMember)
	}

	slot := r.alloc()
	n := &r.nodes[slot]
	n.d = d
	n.live = true

	if r.head == nilSlot {
		n.next, n.prev = slot, slot
		r.head = slot
	} else {
		head := &r.nodes[r.head]
		tail := head.prev
		n.prev = tail
		n.next = r.head
		r.nodes[tail].next = slot
		head.prev = slot
	}

	r.size++
	h := Handle{slot: slot, gen: n.gen}
	d.ring = r
	d.handle = h
	return h, nil
}

// Remove splices the member out and returns its descriptor. Removing the head
// moves the head to its successor; removing the sole member empties the ring.
func (r *Ring) Remove(h Handle) (*Descriptor, error) {
	n, err := r.lookup(h)
	if err != nil {
		return nil, fmt.Errorf("transport.Ring.Remove: %w", err)
	}

	if n.next == h.slot {
		r.head = nilSlot
	} else {
		r.nodes[n.prev].next = n.next
		r.nodes[n.next].prev = n.prev
		if r.head == h.slot {
			r.head = n.next
		}
	}

	d := n.d
	n.d = nil
	n.live = false
	n.next, n.prev = nilSlot, nilSlot
	r.free = append(r.free, h.slot)
	r.size--

	d.ring = nil
	d.handle = Handle{}
	return d, nil
}

// RemoveDescriptor removes d by its own handle.
func (r *Ring) RemoveDescriptor(d *Descriptor) error {
	if d.ring != r {
		return fmt.Errorf("transport.Ring.RemoveDescriptor(%s): %w", d.ID, ErrNotMember)
	}
	_, err := r.Remove(d.handle)
	return err
}

// Current returns the head member, or nil when the ring is empty.
func (r *Ring) Current() *Descriptor {
	if r.head == nilSlot {
		return nil
	}
	return r.nodes[r.head].d
}

// CurrentHandle returns the handle of the head member.
func (r *Ring) CurrentHandle() (Handle, bool) {
	if r.head == nilSlot {
		return Handle{}, false
	}
	return Handle{slot: r.head, gen: r.nodes[r.head].gen}, true
}

// Advance moves the head to its successor without touching membership.
func (r *Ring) Advance() *Descriptor {
	if r.head == nilSlot {
		return nil
	}
	r.head = r.nodes[r.head].next
	return r.nodes[r.head].d
}

// Next returns the successor of h.
func (r *Ring) Next(h Handle) (Handle, error) {
	n, err := r.lookup(h)
	if err != nil {
		return Handle{}, fmt.Errorf("transport.Ring.Next: %w", err)
	}
	return Handle{slot: n.next, gen: r.nodes[n.next].gen}, nil
}

// Prev returns the predecessor of h.
func (r *Ring) Prev(h Handle) (Handle, error) {
	n, err := r.lookup(h)
	if err != nil {
		return Handle{}, fmt.Errorf("transport.Ring.Prev: %w", err)
	}
	return Handle{slot: n.prev, gen: r.nodes[n.prev].gen}, nil
}

// Get returns the descriptor behind h.
func (r *Ring) Get(h Handle) (*Descriptor, error) {
	n, err := r.lookup(h)
	if err != nil {
		return nil, fmt.Errorf("transport.Ring.Get: %w", err)
	}
	return n.d, nil
}

// All yields members in ring order starting from the head.
func (r *Ring) All() iter.Seq[*Descriptor] {
	return func(yield func(*Descriptor) bool) {
		if r.head == nilSlot {
			return
		}
		slot := r.head
		for range r.size {
			if !yield(r.nodes[slot].d) {
				return
			}
			slot = r.nodes[slot].next
		}
	}
}

// Drain removes members one at a time from the head and hands each to fn.
func (r *Ring) Drain(fn func(*Descriptor)) {
	for r.head != nilSlot {
		h := Handle{slot: r.head, gen: r.nodes[r.head].gen}
		d, err := r.Remove(h)
		if err != nil {
			return
		}
		if fn != nil {
			fn(d)
		}
	}
}

func (r *Ring) alloc() int {
	if k := len(r.free); k > 0 {
		slot := r.free[k-1]
		r.free = r.free[:k-1]
		r.nodes[slot].gen++
		return slot
	}
	r.nodes = append(r.nodes, node{gen: 1, next: nilSlot, prev: nilSlot})
	return len(r.nodes) - 1
}

func (r *Ring) lookup(h Handle) (*node, error) {
	if !h.Valid() || h.slot < 0 || h.slot >= len(r.nodes) {
		return nil, ErrNotMember
	}
	n := &r.nodes[h.slot]
	if !n.live || n.gen != h.gen {
		return nil, ErrNotMember
	}
	return n, nil
}
