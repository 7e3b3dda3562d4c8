package view

// List is the container of a list-of-objects field. It is owned by its
// parent proxy and replaced wholesale when the field is rewritten, so
// positions carry no identity across rebuilds.
type List struct {
	version uint64
	items   []*Proxy
	closed  bool
}

// Len returns the number of elements
func (l *List) Len() int { return len(l.items) }

// At returns the element at i, nil for a null element
func (l *List) At(i int) *Proxy { return l.items[i] }

// Items returns the elements in order
func (l *List) Items() []*Proxy {
	out := make([]*Proxy, len(l.items))
	copy(out, l.items)
	return out
}

// Closed reports whether the container was replaced or its owner closed
func (l *List) Closed() bool { return l.closed }

func (l *List) close() {
	if l.closed {
		return
	}
	l.closed = true
	for _, p := range l.items {
		if p != nil {
			p.Close()
		}
	}
}
