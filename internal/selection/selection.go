// Package selection implements the hover-highlight and click-selection
// state machine.
package selection

import (
	"github.com/paulmach/orb"

	"github.com/geochart/server/internal/region"
)

// Store is the property store the controller marks selections in.
type Store interface {
	HasData(id region.ID) bool
	SetSelected(id region.ID, selected bool) bool
}

// Centers resolves the geometric center of a region.
type Centers interface {
	Center(id region.ID) (orb.Point, bool)
}

// Event describes a highlight or selection change. A zero Region means the
// state was cleared.
type Event struct {
	Region    region.ID
	Anchor    orb.Point
	HasAnchor bool
}

// Cleared reports whether the event clears the state.
func (e Event) Cleared() bool { return e.Region == "" }

// Observer is notified synchronously after each transition.
type Observer interface {
	HighlightChanged(Event)
	SelectionChanged(Event)
}

// Invalidator is told which regions need their style recomputed.
type Invalidator func(ids ...region.ID)

// State is a read-only view of the controller.
type State struct {
	Selected    region.ID `json:"selected,omitempty"`
	Highlighted region.ID `json:"highlighted,omitempty"`
}

// Idle reports whether nothing is selected or highlighted.
func (s State) Idle() bool { return s.Selected == "" && s.Highlighted == "" }

// Controller owns the selected and highlighted region. It is not safe for
// concurrent use; the owner serializes calls.
type Controller struct {
	store       Store
	centers     Centers
	invalidate  Invalidator
	observers   []Observer
	selected    region.ID
	highlighted region.ID
}

// NewController creates a controller in the idle state.
func NewController(store Store, centers Centers, invalidate Invalidator, observers ...Observer) *Controller {
	if invalidate == nil {
		invalidate = func(...region.ID) {}
	}
	return &Controller{
		store:      store,
		centers:    centers,
		invalidate: invalidate,
		observers:  observers,
	}
}

// AddObserver registers an additional observer.
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// State returns the current selection and highlight.
func (c *Controller) State() State {
	return State{Selected: c.selected, Highlighted: c.highlighted}
}

// PointerEnter highlights id unless it is the current selection. at is the
// pointer position, if known.
func (c *Controller) PointerEnter(id region.ID, at *orb.Point) {
	if id == "" || id == c.selected || id == c.highlighted {
		return
	}
	c.setHighlight(id, at)
}

// PointerLeave clears the highlight if it is on id.
func (c *Controller) PointerLeave(id region.ID) {
	if id == "" || id != c.highlighted {
		return
	}
	c.setHighlight("", nil)
}

// Click toggles the selection of a region with data. Clicking a region
// without data clears the selection.
func (c *Controller) Click(id region.ID) {
	if id == "" {
		c.ClickOutside()
		return
	}
	if !c.store.HasData(id) {
		c.clearSelection()
		return
	}
	if id == c.selected {
		c.clearSelection()
		// The pointer is still over the region.
		if c.highlighted != id {
			c.setHighlight(id, nil)
		}
		return
	}
	c.selectRegion(id)
}

// ClickOutside clears both selection and highlight.
func (c *Controller) ClickOutside() {
	c.clearSelection()
	if c.highlighted != "" {
		c.setHighlight("", nil)
	}
}

// Select programmatically selects id without toggling. It returns false if
// id has no data.
func (c *Controller) Select(id region.ID) bool {
	if !c.store.HasData(id) {
		return false
	}
	if id != c.selected {
		c.selectRegion(id)
	}
	return true
}

// ClearSelection programmatically clears the selection.
func (c *Controller) ClearSelection() {
	c.clearSelection()
}

// Reset forgets all state without touching the store. It is used when the
// store itself is replaced by a new bind.
func (c *Controller) Reset(store Store) {
	hadSelection, hadHighlight := c.selected != "", c.highlighted != ""
	c.store = store
	c.selected, c.highlighted = "", ""
	if hadSelection {
		c.notifySelection(Event{})
	}
	if hadHighlight {
		c.notifyHighlight(Event{})
	}
}

func (c *Controller) selectRegion(id region.ID) {
	// Unmark the old selection first so only one region is ever selected.
	prev := c.selected
	if prev != "" {
		c.store.SetSelected(prev, false)
	}
	c.selected = id
	c.store.SetSelected(id, true)
	if prev != "" {
		c.invalidate(prev, id)
	} else {
		c.invalidate(id)
	}

	ev := Event{Region: id}
	if c.centers != nil {
		ev.Anchor, ev.HasAnchor = c.centers.Center(id)
	}
	c.notifySelection(ev)
}

func (c *Controller) clearSelection() {
	if c.selected == "" {
		return
	}
	prev := c.selected
	c.store.SetSelected(prev, false)
	c.selected = ""
	c.invalidate(prev)
	c.notifySelection(Event{})
}

func (c *Controller) setHighlight(id region.ID, at *orb.Point) {
	prev := c.highlighted
	c.highlighted = id

	switch {
	case prev != "" && id != "":
		c.invalidate(prev, id)
	case prev != "":
		c.invalidate(prev)
	case id != "":
		c.invalidate(id)
	}

	ev := Event{Region: id}
	if at != nil {
		ev.Anchor, ev.HasAnchor = *at, true
	} else if id != "" && c.centers != nil {
		ev.Anchor, ev.HasAnchor = c.centers.Center(id)
	}
	c.notifyHighlight(ev)
}

func (c *Controller) notifyHighlight(ev Event) {
	for _, o := range c.observers {
		o.HighlightChanged(ev)
	}
}

func (c *Controller) notifySelection(ev Event) {
	for _, o := range c.observers {
		o.SelectionChanged(ev)
	}
}
