// Package databind joins tabular datasets to geographic regions.
package databind

import (
	"errors"
	"fmt"

	"github.com/geochart/server/internal/region"
)

var (
	// ErrIncompatibleDataset is returned for datasets whose shape cannot be
	// bound. It aborts the bind.
	ErrIncompatibleDataset = errors.New("incompatible dataset")
	// ErrRegionNotFound marks a dataset row whose id resolves to no region.
	// It is reported as a warning and never aborts a bind.
	ErrRegionNotFound = errors.New("region not found")
)

// RegionNotFoundError is the warning recorded for a skipped row.
type RegionNotFoundError struct {
	Row int
	ID  region.ID
}

func (e *RegionNotFoundError) Error() string {
	return fmt.Sprintf("row %d: region %q not found", e.Row, e.ID)
}

// Is reports whether target is ErrRegionNotFound.
func (e *RegionNotFoundError) Is(target error) bool {
	return target == ErrRegionNotFound
}

// Resolver looks up a region by dataset id. region.Collection satisfies it.
type Resolver interface {
	Lookup(id region.ID) (*region.Region, bool)
}

// Domain is the value range of a bound dataset.
type Domain struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// IsDegenerate reports whether the domain collapses to a single value. An
// empty domain is degenerate.
func (d Domain) IsDegenerate() bool {
	return d.Count == 0 || d.Min == d.Max
}

// RelativeValue maps v into [0, 1] over the domain. Callers must check
// IsDegenerate first.
func RelativeValue(d Domain, v float64) float64 {
	return (v - d.Min) / (d.Max - d.Min)
}

func (d *Domain) extend(v float64) {
	if d.Count == 0 || v < d.Min {
		d.Min = v
	}
	if d.Count == 0 || v > d.Max {
		d.Max = v
	}
	d.Count++
}

// Result is the outcome of a successful bind.
type Result struct {
	Mode     Mode
	Domain   Domain
	Label    string
	Store    *Store
	Rows     int
	Warnings []error
}

// Bind joins dataset rows to regions in a single pass. Rows referencing an
// unknown region are skipped and reported in Result.Warnings. Shape errors
// are detected before any state is built, so a failed Bind has no effect.
func Bind(d *Dataset, resolver Resolver) (*Result, error) {
	mode, err := DetectMode(d)
	if err != nil {
		return nil, err
	}
	rows, err := validate(d, mode)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Mode:  mode,
		Store: NewStore(),
		Rows:  len(rows),
	}
	if mode == ModeValued {
		res.Label = d.ColumnLabel(1)
	}

	for _, r := range rows {
		if _, ok := resolver.Lookup(r.id); !ok {
			res.Warnings = append(res.Warnings, &RegionNotFoundError{Row: r.index, ID: r.id})
			continue
		}

		p := Properties{
			ID:       r.id,
			HasData:  true,
			RowIndex: r.index,
		}
		if mode == ModeValued {
			p.Label = res.Label
			if r.hasValue {
				p.Value, p.HasValue = r.value, true
				res.Domain.extend(r.value)
			}
		}
		res.Store.put(p)
	}

	return res, nil
}
