package reconciler

import "botdash/internal/model"

// DefaultCapacity bounds the number of listings a Projection retains.
const DefaultCapacity = 2000

// Projection is the local, ordered view of visible listings. The front is
// the newest arrival. It is not safe for concurrent use; the Reconciler owns
// it from a single goroutine.
type Projection struct {
	items    []model.Listing
	capacity int
}

// NewProjection creates an empty Projection bounded to capacity entries.
func NewProjection(capacity int) *Projection {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Projection{capacity: capacity}
}

// Seed replaces the collection with the visible records, keeping their
// order. Later duplicates of an ID are dropped.
func (p *Projection) Seed(records []model.Listing) {
	items := make([]model.Listing, 0, min(len(records), p.capacity))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if !r.Visible() {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		items = append(items, r)
		if len(items) == p.capacity {
			break
		}
	}
	p.items = items
}

// Insert adds a visible record at the front. A record whose ID is already
// present overwrites that entry in place, or removes it when the new version
// is not visible.
func (p *Projection) Insert(r model.Listing) {
	i := p.index(r.ID)
	if !r.Visible() {
		if i >= 0 {
			p.remove(i)
		}
		return
	}
	if i >= 0 {
		p.items[i] = r
		return
	}
	p.prepend(r)
}

// Update applies a new version of a record. A record that is no longer
// visible is removed; a visible one replaces its entry in place, or is added
// at the front if it was not present.
func (p *Projection) Update(r model.Listing) {
	i := p.index(r.ID)
	if !r.Visible() {
		if i >= 0 {
			p.remove(i)
		}
		return
	}
	if i >= 0 {
		p.items[i] = r
		return
	}
	p.prepend(r)
}

// Delete removes the record with the given ID if present.
func (p *Projection) Delete(id string) {
	if i := p.index(id); i >= 0 {
		p.remove(i)
	}
}

// Len returns the number of retained listings.
func (p *Projection) Len() int {
	return len(p.items)
}

// Listings returns a copy of the retained listings in display order.
func (p *Projection) Listings() []model.Listing {
	out := make([]model.Listing, len(p.items))
	copy(out, p.items)
	return out
}

// Stats counts the retained listings. The counts are computed on each call.
func (p *Projection) Stats() model.Stats {
	return Count(p.items)
}

// Count computes aggregate counts over listings.
func Count(listings []model.Listing) model.Stats {
	s := model.Stats{Total: len(listings)}
	for _, l := range listings {
		if l.MessageSent {
			s.Sent++
		}
		if l.Deleted {
			s.Deleted++
		}
		if l.Open() {
			s.Open++
		}
	}
	return s
}

func (p *Projection) index(id string) int {
	for i := range p.items {
		if p.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Projection) prepend(r model.Listing) {
	if len(p.items) >= p.capacity {
		p.items = p.items[:p.capacity-1]
	}
	p.items = append(p.items, model.Listing{})
	copy(p.items[1:], p.items)
	p.items[0] = r
}

func (p *Projection) remove(i int) {
	p.items = append(p.items[:i], p.items[i+1:]...)
}
