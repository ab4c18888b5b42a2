package session

// dedupe remembers the last cap event ids. When full, recording a new id
// evicts the oldest one.
type dedupe struct {
	set  map[string]struct{}
	ring []string
	next int
	full bool
}

func newDedupe(cap int) *dedupe {
	if cap <= 0 {
		cap = 1
	}
	return &dedupe{
		set:  make(map[string]struct{}, cap),
		ring: make([]string, cap),
	}
}

// Seen reports whether id was already recorded, recording it if not.
func (d *dedupe) Seen(id string) bool {
	if _, ok := d.set[id]; ok {
		return true
	}

	if d.full {
		delete(d.set, d.ring[d.next])
	}
	d.ring[d.next] = id
	d.set[id] = struct{}{}
	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.full = true
	}
	return false
}

func (d *dedupe) Len() int {
	return len(d.set)
}
