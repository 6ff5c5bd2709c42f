package databind

import "github.com/geochart/server/internal/region"

// Properties are the derived per-region fields owned by the binder.
type Properties struct {
	ID       region.ID `json:"id"`
	HasData  bool      `json:"has_data"`
	RowIndex int       `json:"row"`
	Value    float64   `json:"value"`
	HasValue bool      `json:"has_value"`
	Label    string    `json:"label,omitempty"`
	Selected bool      `json:"selected"`
}

// Store is the sparse property map keyed by region id. It is the only place
// region flags live; the selected flag is changed through SetSelected.
type Store struct {
	props map[region.ID]*Properties
	rows  map[int]region.ID
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		props: make(map[region.ID]*Properties),
		rows:  make(map[int]region.ID),
	}
}

func (s *Store) put(p Properties) {
	if old, ok := s.props[p.ID]; ok {
		delete(s.rows, old.RowIndex)
	}
	cp := p
	s.props[p.ID] = &cp
	s.rows[p.RowIndex] = p.ID
}

// Get returns a copy of the properties of id.
func (s *Store) Get(id region.ID) (Properties, bool) {
	p, ok := s.props[id]
	if !ok {
		return Properties{}, false
	}
	return *p, true
}

// HasData reports whether id is bound to a dataset row.
func (s *Store) HasData(id region.ID) bool {
	p, ok := s.props[id]
	return ok && p.HasData
}

// SetSelected updates the selected flag of a bound region. Unbound regions
// are ignored and false is returned.
func (s *Store) SetSelected(id region.ID, selected bool) bool {
	p, ok := s.props[id]
	if !ok {
		return false
	}
	p.Selected = selected
	return true
}

// RegionForRow returns the region bound to a dataset row.
func (s *Store) RegionForRow(row int) (region.ID, bool) {
	id, ok := s.rows[row]
	return id, ok
}

// Len returns the number of bound regions.
func (s *Store) Len() int { return len(s.props) }

// Each calls fn for every bound region in unspecified order.
func (s *Store) Each(fn func(Properties)) {
	for _, p := range s.props {
		fn(*p)
	}
}

// Clone returns a deep copy.
func (s *Store) Clone() *Store {
	c := &Store{
		props: make(map[region.ID]*Properties, len(s.props)),
		rows:  make(map[int]region.ID, len(s.rows)),
	}
	for id, p := range s.props {
		cp := *p
		c.props[id] = &cp
	}
	for row, id := range s.rows {
		c.rows[row] = id
	}
	return c
}
