// Package clockx implements CLOCK (second-chance) replacement over a
// fixed set of slots identified by [0..capacity).
package clockx

type slot struct {
	present   bool
	ref       bool
	evictable bool
}

// Clock tracks reference bits and evictable state per slot. A slot is a
// candidate victim only while evictable (a pinned page never is) and
// gets one second chance via its reference bit.
type Clock struct {
	slots []slot
	hand  int
	avail int // evictable slots
}

func New(capacity int) *Clock {
	if capacity <= 0 {
		capacity = 1
	}
	return &Clock{slots: make([]slot, capacity)}
}

func (c *Clock) Capacity() int { return len(c.slots) }

// Len returns the number of currently evictable slots.
func (c *Clock) Len() int { return c.avail }

// Touch marks a slot as recently accessed.
func (c *Clock) Touch(id int) {
	if id < 0 || id >= len(c.slots) {
		return
	}
	c.slots[id].present = true
	c.slots[id].ref = true
}

// SetEvictable flips whether a slot may be chosen as a victim.
func (c *Clock) SetEvictable(id int, evictable bool) {
	if id < 0 || id >= len(c.slots) || !c.slots[id].present {
		return
	}
	s := &c.slots[id]
	if s.evictable == evictable {
		return
	}
	s.evictable = evictable
	if evictable {
		c.avail++
	} else {
		c.avail--
	}
}

// Evict sweeps the hand until it finds an evictable slot whose reference
// bit is clear, clearing bits as it passes. The victim is removed from
// tracking. Two full sweeps bound the walk.
func (c *Clock) Evict() (id int, ok bool) {
	n := len(c.slots)
	if c.avail == 0 {
		return -1, false
	}
	for i := 0; i < 2*n; i++ {
		s := &c.slots[c.hand]
		if s.present && s.evictable {
			if !s.ref {
				victim := c.hand
				*s = slot{}
				c.avail--
				c.hand = (c.hand + 1) % n
				return victim, true
			}
			s.ref = false
		}
		c.hand = (c.hand + 1) % n
	}
	return -1, false
}

// Remove forgets a slot without electing it as a victim.
func (c *Clock) Remove(id int) {
	if id < 0 || id >= len(c.slots) || !c.slots[id].present {
		return
	}
	if c.slots[id].evictable {
		c.avail--
	}
	c.slots[id] = slot{}
}
