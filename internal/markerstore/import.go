package markerstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ReadFile imports markers from an NDJSON or GeoJSON file. A ".zst" suffix
// selects zstd decompression; the remaining suffix picks the format.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
		name = strings.TrimSuffix(name, ".zst")
	}

	if strings.HasSuffix(name, ".geojson") || strings.HasSuffix(name, ".json") {
		return ReadGeoJSON(r)
	}
	return ReadNDJSON(r)
}

// ReadGeoJSON reads a FeatureCollection. Only Point features are imported.
func ReadGeoJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("invalid geojson: %w", err)
	}

	records := make([]Record, 0, len(fc.Features))
	for _, f := range fc.Features {
		if rec, ok := fromFeature(f); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// ReadNDJSON reads one marker per line. A line is either a plain record
// ({"id","lng","lat","category","label"}) or a GeoJSON Point feature.
func ReadNDJSON(r io.Reader) ([]Record, error) {
	var records []Record

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		rec, err := decodeLine(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeLine(raw []byte) (Record, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Record{}, err
	}

	if probe.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return Record{}, err
		}
		rec, ok := fromFeature(f)
		if !ok {
			return Record{}, fmt.Errorf("feature geometry is not a point")
		}
		return rec, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec, nil
}

func fromFeature(f *geojson.Feature) (Record, bool) {
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		return Record{}, false
	}

	rec := Record{
		Lng:      p.Lon(),
		Lat:      p.Lat(),
		Category: f.Properties.MustString("category", ""),
		Label:    f.Properties.MustString("label", f.Properties.MustString("name", "")),
	}
	switch id := f.ID.(type) {
	case string:
		rec.ID = id
	case float64:
		rec.ID = fmt.Sprintf("%d", int64(id))
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec, rec.Validate() == nil
}

// Validate checks the coordinate range.
func (r Record) Validate() error {
	if r.Lng < -180 || r.Lng > 180 || r.Lat < -90 || r.Lat > 90 {
		return fmt.Errorf("coordinate out of range: %v,%v", r.Lng, r.Lat)
	}
	return nil
}

// Point returns the record coordinate.
func (r Record) Point() orb.Point {
	return orb.Point{r.Lng, r.Lat}
}

// WriteNDJSON writes records one per line, zstd-compressed when compress is set.
func WriteNDJSON(w io.Writer, records []Record, compress bool) error {
	if compress {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if err := writeLines(enc, records); err != nil {
			enc.Close()
			return err
		}
		return enc.Close()
	}
	return writeLines(w, records)
}

func writeLines(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return bw.Flush()
}
