package region

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

const squaresGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "A", "properties": {"name": "Alpha", "code": 10},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
    {"type": "Feature", "id": 7, "properties": {"name": "Seven", "code": 11},
     "geometry": {"type": "Polygon", "coordinates": [[[2,0],[4,0],[4,2],[2,2],[2,0]]]}},
    {"type": "Feature", "id": "P", "properties": {"code": 12},
     "geometry": {"type": "Point", "coordinates": [9, 9]}}
  ]
}`

func TestParseFeatureIDs(t *testing.T) {
	c, err := Parse([]byte(squaresGeoJSON), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 regions, got %d", c.Len())
	}

	r, ok := c.Lookup("7")
	if !ok {
		t.Fatal("numeric feature id should resolve as \"7\"")
	}
	if r.Name() != "Seven" {
		t.Errorf("unexpected name %q", r.Name())
	}
	if _, ok := c.Lookup("X999"); ok {
		t.Error("unexpected region X999")
	}

	ids := c.IDs()
	if len(ids) != 3 || ids[0] != "A" || ids[1] != "7" || ids[2] != "P" {
		t.Errorf("unexpected order %v", ids)
	}

	b := c.Bound()
	if b.Min[0] != 0 || b.Min[1] != 0 || b.Max[0] != 9 || b.Max[1] != 9 {
		t.Errorf("unexpected bound %v", b)
	}
}

func TestParseIDProperty(t *testing.T) {
	c, err := Parse([]byte(squaresGeoJSON), "code")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, ok := c.Lookup("11"); !ok {
		t.Fatal("expected region keyed by code property")
	}

	if _, err := Parse([]byte(squaresGeoJSON), "name"); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID for feature without name, got %v", err)
	}
}

func TestCenter(t *testing.T) {
	c, err := Parse([]byte(squaresGeoJSON), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	p, ok := c.Center("A")
	if !ok {
		t.Fatal("expected center for A")
	}
	if math.Abs(p[0]-1) > 1e-9 || math.Abs(p[1]-1) > 1e-9 {
		t.Errorf("unexpected polygon center %v", p)
	}

	p, _ = c.Center("P")
	if p[0] != 9 || p[1] != 9 {
		t.Errorf("unexpected point center %v", p)
	}

	if _, ok := c.Center("missing"); ok {
		t.Error("expected no center for unknown id")
	}
}

func TestDuplicateIDLastWins(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","id":"D","properties":{"name":"first"},"geometry":{"type":"Point","coordinates":[0,0]}},
	  {"type":"Feature","id":"D","properties":{"name":"second"},"geometry":{"type":"Point","coordinates":[1,1]}}
	]}`
	c, err := Parse([]byte(data), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 region, got %d", c.Len())
	}
	r, _ := c.Lookup("D")
	if r.Name() != "second" {
		t.Fatalf("expected last write to win, got %q", r.Name())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.geojson")
	if err := os.WriteFile(path, []byte(squaresGeoJSON), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 regions, got %d", c.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.geojson"), ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIDOf(t *testing.T) {
	cases := []struct {
		in   any
		want ID
		ok   bool
	}{
		{"BR", "BR", true},
		{"", "", false},
		{3, "3", true},
		{float64(3), "3", true},
		{2.5, "2.5", true},
		{nil, "", false},
		{true, "", false},
		{math.NaN(), "", false},
	}
	for _, tc := range cases {
		got, ok := IDOf(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("IDOf(%#v) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestLocate(t *testing.T) {
	c, err := Parse([]byte(squaresGeoJSON), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id, ok := c.Locate(orb.Point{1, 1}); !ok || id != "A" {
		t.Errorf("Locate(1,1) = %q, %v", id, ok)
	}
	if id, ok := c.Locate(orb.Point{3, 0.5}); !ok || id != "7" {
		t.Errorf("Locate(3,0.5) = %q, %v", id, ok)
	}
	if _, ok := c.Locate(orb.Point{5, 5}); ok {
		t.Error("expected no region at (5,5)")
	}
}
