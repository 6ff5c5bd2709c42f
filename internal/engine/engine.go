// Package engine is the host-facing choropleth chart: it binds datasets,
// answers style queries and routes pointer events through the selection
// state machine.
package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/overlay"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/selection"
	"github.com/geochart/server/internal/style"
	"github.com/geochart/server/pkg/colormap"
)

var (
	// ErrNotBound is returned by operations that need a bound dataset.
	ErrNotBound = errors.New("chart has no bound dataset")
	// ErrInvalidSelection is returned for malformed SetSelection input.
	ErrInvalidSelection = errors.New("invalid selection")
)

// Regions is the geometry the chart binds against.
type Regions interface {
	region.Source
	IDs() []region.ID
}

// SelectionEntry addresses a dataset row. Column is always null.
type SelectionEntry struct {
	Row    int  `json:"row"`
	Column *int `json:"column"`
}

// ReadyEvent is emitted once after each successful bind.
type ReadyEvent struct {
	BindID  string          `json:"bind_id"`
	Mode    databind.Mode   `json:"mode"`
	Domain  databind.Domain `json:"domain"`
	Label   string          `json:"label,omitempty"`
	Rows    int             `json:"rows"`
	Bound   int             `json:"bound"`
	Skipped int             `json:"skipped"`
}

// Config contains chart configuration.
type Config struct {
	Regions Regions
	Options Options
	Logger  *log.Logger
}

type binding struct {
	id      string
	dataset *databind.Dataset
	result  *databind.Result
	axis    colormap.Axis
	opts    Options
}

// Chart is safe for concurrent use; all state changes are serialized.
type Chart struct {
	mu      sync.Mutex
	regions Regions
	logger  *log.Logger
	opts    Options

	bound     *binding
	ctrl      *selection.Controller
	tooltip   *overlay.Tooltip
	legend    *overlay.Legend
	observers []selection.Observer
	version   uint64
	pending   []region.ID

	onReady      []func(ReadyEvent)
	onInvalidate []func([]region.ID)
}

// New creates an unbound chart.
func New(cfg Config) *Chart {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	opts := cfg.Options
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	c := &Chart{
		regions: cfg.Regions,
		logger:  logger,
		opts:    opts,
	}
	c.tooltip = overlay.NewTooltip(opts.Tooltip, overlay.InspectorFunc(c.inspect))
	c.legend = overlay.NewLegend(opts.Legend, opts.LegendPosition, overlay.InspectorFunc(c.inspect))
	return c
}

// OnReady registers a listener called after every successful bind.
func (c *Chart) OnReady(fn func(ReadyEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = append(c.onReady, fn)
}

// OnInvalidate registers a listener told which regions need restyling.
// Listeners run after the chart lock is released.
func (c *Chart) OnInvalidate(fn func([]region.ID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvalidate = append(c.onInvalidate, fn)
}

// AddObserver registers an observer of highlight and selection changes. It
// is called with the chart lock held and must not call back into the chart.
func (c *Chart) AddObserver(o selection.Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
	if c.ctrl != nil {
		c.ctrl.AddObserver(o)
	}
}

// Bind replaces the bound dataset. opts may be nil to keep the current
// options. A failed bind leaves the previous state in place.
func (c *Chart) Bind(ds *databind.Dataset, opts *Options) (ReadyEvent, error) {
	c.mu.Lock()
	o := c.opts
	if opts != nil {
		o = *opts
	}
	res, err := databind.Bind(ds, c.regions)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("bind failed", "err", err)
		return ReadyEvent{}, fmt.Errorf("bind: %w", err)
	}

	for _, w := range res.Warnings {
		var nf *databind.RegionNotFoundError
		if errors.As(w, &nf) {
			c.logger.Warn("dataset row skipped", "row", nf.Row, "id", nf.ID, "reason", databind.ErrRegionNotFound)
			continue
		}
		c.logger.Warn("dataset row skipped", "err", w)
	}

	b := &binding{
		id:      uuid.NewString(),
		dataset: ds,
		result:  res,
		axis:    colormap.BuildAxis(o.Fill, o.Stroke, res.Domain.Min, res.Domain.Max),
		opts:    o,
	}

	if c.ctrl != nil {
		c.ctrl.Reset(res.Store)
	}
	c.opts = o
	c.bound = b
	c.tooltip = overlay.NewTooltip(o.Tooltip, overlay.InspectorFunc(c.inspect))
	c.legend = overlay.NewLegend(o.Legend, o.LegendPosition, overlay.InspectorFunc(c.inspect))
	c.legend.Reset(res.Mode, b.axis, res.Label)

	observers := append([]selection.Observer{c.tooltip, c.legend}, c.observers...)
	c.ctrl = selection.NewController(res.Store, c.regions, c.markDirty, observers...)
	c.version++
	c.pending = append(c.pending[:0], c.regions.IDs()...)

	ev := ReadyEvent{
		BindID:  b.id,
		Mode:    res.Mode,
		Domain:  res.Domain,
		Label:   res.Label,
		Rows:    res.Rows,
		Bound:   res.Store.Len(),
		Skipped: len(res.Warnings),
	}
	ready := slices.Clone(c.onReady)
	c.unlockAndFlush()

	c.logger.Info("dataset bound", "bind_id", ev.BindID, "mode", ev.Mode, "rows", ev.Rows, "bound", ev.Bound, "skipped", ev.Skipped)
	for _, fn := range ready {
		fn(ev)
	}
	return ev, nil
}

// markDirty is the selection invalidator. It runs with the lock held.
func (c *Chart) markDirty(ids ...region.ID) {
	c.version++
	c.pending = append(c.pending, ids...)
}

// unlockAndFlush releases the lock and delivers pending invalidations.
func (c *Chart) unlockAndFlush() {
	var ids []region.ID
	if len(c.pending) > 0 {
		ids = append(ids, c.pending...)
		c.pending = c.pending[:0]
	}
	listeners := c.onInvalidate
	c.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	for _, fn := range listeners {
		fn(ids)
	}
}

// dispatch runs fn against the controller under the lock.
func (c *Chart) dispatch(fn func(*selection.Controller)) error {
	c.mu.Lock()
	if c.ctrl == nil {
		c.mu.Unlock()
		return ErrNotBound
	}
	fn(c.ctrl)
	c.unlockAndFlush()
	return nil
}

// PointerEnter handles the pointer entering a region. at is the pointer
// position in map coordinates, if known.
func (c *Chart) PointerEnter(id region.ID, at *orb.Point) error {
	return c.dispatch(func(s *selection.Controller) { s.PointerEnter(id, at) })
}

// PointerLeave handles the pointer leaving a region.
func (c *Chart) PointerLeave(id region.ID) error {
	return c.dispatch(func(s *selection.Controller) { s.PointerLeave(id) })
}

// Click handles a click on a region.
func (c *Chart) Click(id region.ID) error {
	return c.dispatch(func(s *selection.Controller) { s.Click(id) })
}

// ClickOutside handles a click on the base surface.
func (c *Chart) ClickOutside() error {
	return c.dispatch(func(s *selection.Controller) { s.ClickOutside() })
}

// GetSelection returns the selected dataset row, or an empty slice.
func (c *Chart) GetSelection() []SelectionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctrl == nil {
		return []SelectionEntry{}
	}
	id := c.ctrl.State().Selected
	if id == "" {
		return []SelectionEntry{}
	}
	p, ok := c.bound.result.Store.Get(id)
	if !ok {
		return []SelectionEntry{}
	}
	return []SelectionEntry{{Row: p.RowIndex}}
}

// SetSelection selects the region bound to a dataset row. An empty slice
// clears the selection. At most one entry is accepted.
func (c *Chart) SetSelection(sel []SelectionEntry) error {
	if len(sel) > 1 {
		return fmt.Errorf("%w: multi-row selection is not supported", ErrInvalidSelection)
	}

	c.mu.Lock()
	if c.ctrl == nil {
		c.mu.Unlock()
		return ErrNotBound
	}
	if len(sel) == 0 {
		c.ctrl.ClearSelection()
		c.unlockAndFlush()
		return nil
	}

	row := sel[0].Row
	id, ok := c.bound.result.Store.RegionForRow(row)
	if !ok || !c.ctrl.Select(id) {
		c.mu.Unlock()
		return fmt.Errorf("%w: row %d is not bound to a region", ErrInvalidSelection, row)
	}
	c.unlockAndFlush()
	return nil
}

// State returns the current selection and highlight.
func (c *Chart) State() selection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return selection.State{}
	}
	return c.ctrl.State()
}

// Style resolves the style of one region. It may be called at any rate.
func (c *Chart) Style(id region.ID) style.Style {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshotLocked(false)
	return style.Resolve(&s, id)
}

// Styles resolves every region in the collection.
func (c *Chart) Styles() map[region.ID]style.Style {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snapshotLocked(false)
	out := make(map[region.ID]style.Style)
	for _, id := range c.regions.IDs() {
		out[id] = style.Resolve(&s, id)
	}
	return out
}

// Snapshot returns an immutable copy of everything Resolve needs.
func (c *Chart) Snapshot() style.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(true)
}

func (c *Chart) snapshotLocked(clone bool) style.Snapshot {
	s := style.Snapshot{Options: c.opts.Styles}
	if c.bound == nil {
		return s
	}
	res := c.bound.result
	s.Mode = res.Mode
	s.Domain = res.Domain
	s.Axis = c.bound.axis
	s.Options = c.bound.opts.Styles
	if clone {
		s.Props = res.Store.Clone()
	} else {
		s.Props = res.Store
	}
	if c.ctrl != nil {
		s.Highlighted = c.ctrl.State().Highlighted
	}
	return s
}

// inspect runs with the lock held; overlays call it during transitions.
func (c *Chart) inspect(id region.ID) (overlay.Info, bool) {
	r, ok := c.regions.Lookup(id)
	if !ok {
		return overlay.Info{}, false
	}
	info := overlay.Info{ID: id, Name: r.Name()}
	if c.bound == nil {
		return info, true
	}

	res := c.bound.result
	if p, ok := res.Store.Get(id); ok {
		info.HasData = p.HasData
		info.Label = p.Label
		info.Value = p.Value
		info.HasValue = p.HasValue
		if p.HasValue {
			info.Relative = style.Relative(res.Domain, p.Value)
		}
	}

	s := style.Snapshot{
		Mode:    res.Mode,
		Domain:  res.Domain,
		Axis:    c.bound.axis,
		Props:   res.Store,
		Options: c.bound.opts.Styles,
	}
	st := style.Resolve(&s, id)
	info.Fill, info.Stroke = st.FillColor, st.StrokeColor
	return info, true
}

// Tooltip returns the tooltip state.
func (c *Chart) Tooltip() overlay.TooltipState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tooltip.State()
}

// Legend returns the legend state.
func (c *Chart) Legend() overlay.LegendState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.legend.State()
}

// Version increases every time any region style may have changed.
func (c *Chart) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// BindID identifies the current bind, or "" before the first bind.
func (c *Chart) BindID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound == nil {
		return ""
	}
	return c.bound.id
}

// Dataset returns the bound dataset.
func (c *Chart) Dataset() (*databind.Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound == nil {
		return nil, false
	}
	return c.bound.dataset, true
}

// Regions returns the geometry the chart binds against.
func (c *Chart) Regions() Regions { return c.regions }

// Frame is a consistent view of everything needed to draw the chart.
type Frame struct {
	Version uint64
	BindID  string
	Bound   bool
	Styles  map[region.ID]style.Style
	Axis    colormap.Axis
	Legend  overlay.LegendState
}

// Frame resolves every region style and the legend under one lock, so the
// result matches Version exactly.
func (c *Chart) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snapshotLocked(false)
	f := Frame{
		Version: c.version,
		Styles:  make(map[region.ID]style.Style),
		Legend:  c.legend.State(),
	}
	for _, id := range c.regions.IDs() {
		f.Styles[id] = style.Resolve(&s, id)
	}
	if c.bound != nil {
		f.Bound = true
		f.BindID = c.bound.id
		f.Axis = c.bound.axis
	}
	return f
}
