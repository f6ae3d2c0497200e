// Package osm parses the OSM XML attachments that field devices capture for
// building outlines. A document usually holds one way (the structure
// footprint) plus its nodes, but bare node submissions occur too.
package osm

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/vectorlink/irs-backend/internal/geo"
)

// GeometryType discriminates way records from node records.
type GeometryType string

const (
	Way  GeometryType = "way"
	Node GeometryType = "node"
)

// Record is one way or node extracted from an OSM document with its cleaned
// tag map.
type Record struct {
	ID       int64
	Type     GeometryType
	Geometry geo.Geometry
	Tags     map[string]string
}

type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNode struct {
	ID   int64    `xml:"id,attr"`
	Lat  float64  `xml:"lat,attr"`
	Lon  float64  `xml:"lon,attr"`
	Tags []xmlTag `xml:"tag"`
}

type xmlNdRef struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlWay struct {
	ID   int64      `xml:"id,attr"`
	Refs []xmlNdRef `xml:"nd"`
	Tags []xmlTag   `xml:"tag"`
}

type xmlDoc struct {
	Nodes []xmlNode `xml:"node"`
	Ways  []xmlWay  `xml:"way"`
}

// Some vendor builds of the data-collection app emit the action="modify"
// attribute more than once on edited elements, not always adjacently, which
// strict XML parsers reject.
var (
	elementTagRe = regexp.MustCompile(`<[^>]+>`)
	actionAttrRe = regexp.MustCompile(`\s+action="modify"`)
)

// stripDuplicateActions removes every action="modify" after the first within
// each element tag, leaving the rest of the document untouched.
func stripDuplicateActions(raw []byte) []byte {
	return elementTagRe.ReplaceAllFunc(raw, func(tag []byte) []byte {
		locs := actionAttrRe.FindAllIndex(tag, -1)
		if len(locs) < 2 {
			return tag
		}
		out := make([]byte, 0, len(tag))
		out = append(out, tag[:locs[1][0]]...)
		prev := locs[1][1]
		for _, l := range locs[2:] {
			out = append(out, tag[prev:l[0]]...)
			prev = l[1]
		}
		return append(out, tag[prev:]...)
	})
}

// Parse extracts way and node records from raw OSM XML. Ways that reference
// missing nodes or degenerate geometry are skipped rather than failing the
// whole document; the error return is reserved for unreadable XML.
func Parse(raw []byte) ([]Record, error) {
	doc, err := decode(raw)
	if err != nil {
		// Retry once after stripping the duplicated action="modify"
		// attribute the vendor app is known to produce.
		if doc, err = decode(stripDuplicateActions(raw)); err != nil {
			return nil, fmt.Errorf("parse osm document: %w", err)
		}
	}

	nodeByID := make(map[int64]geo.Point, len(doc.Nodes))
	for _, n := range doc.Nodes {
		nodeByID[n.ID] = geo.Point{Lng: n.Lon, Lat: n.Lat}
	}

	var records []Record
	for _, w := range doc.Ways {
		g, ok := wayGeometry(w, nodeByID)
		if !ok {
			continue
		}
		records = append(records, Record{
			ID:       w.ID,
			Type:     Way,
			Geometry: g,
			Tags:     cleanTags(w.Tags),
		})
	}

	hasWays := len(records) > 0
	for _, n := range doc.Nodes {
		tags := cleanTags(n.Tags)
		// Untagged nodes are only vertices of ways, unless the document
		// has no way at all (a bare point submission).
		if len(tags) == 0 && (hasWays || len(doc.Ways) > 0) {
			continue
		}
		records = append(records, Record{
			ID:       n.ID,
			Type:     Node,
			Geometry: geo.Point{Lng: n.Lon, Lat: n.Lat},
			Tags:     tags,
		})
	}

	return records, nil
}

func decode(raw []byte) (*xmlDoc, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var doc xmlDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// wayGeometry rebuilds a way's geometry from its node refs. A closed ring
// becomes a polygon; anything that cannot close degrades to a linestring so
// one sloppy trace does not sink the submission.
func wayGeometry(w xmlWay, nodes map[int64]geo.Point) (geo.Geometry, bool) {
	pts := make([]geo.Point, 0, len(w.Refs))
	for _, r := range w.Refs {
		p, ok := nodes[r.Ref]
		if !ok {
			return nil, false
		}
		pts = append(pts, p)
	}
	switch {
	case len(pts) < 2:
		return nil, false
	case geo.IsClosedRing(pts):
		return geo.Polygon(pts), true
	default:
		return geo.Line(pts), true
	}
}

// cleanTags drops tags with no answer: empty values and the literal FIXME
// placeholder (any case) the editor inserts for unanswered fields.
func cleanTags(tags []xmlTag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		if t.V == "" || strings.EqualFold(t.V, "FIXME") {
			continue
		}
		out[t.K] = t.V
	}
	return out
}

// FirstWay returns the first way record, if any.
func FirstWay(records []Record) (Record, bool) {
	for _, r := range records {
		if r.Type == Way {
			return r, true
		}
	}
	return Record{}, false
}

// FirstNode returns the first node record, if any.
func FirstNode(records []Record) (Record, bool) {
	for _, r := range records {
		if r.Type == Node {
			return r, true
		}
	}
	return Record{}, false
}
