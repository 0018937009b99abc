package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

// Column names of the catalog CSV files.
const (
	ColCode      = "eicCode"
	ColName      = "name"
	ColPlantID   = "plantId"
	ColPlantKey  = "id"
	ColLatitude  = "lat"
	ColLongitude = "long"

	capacitySuffix = "_MW"
	dateSuffix     = "Date"
	dateLayout     = "02/01/2006"
)

// Row is one CSV record keyed by header name. Err is set when the record
// could not be parsed; Fields is then empty.
type Row struct {
	Line   int
	Fields map[string]string
	Err    error
}

// RowError reports a problem with one catalog row. Skipped rows produced no
// unit; otherwise the unit was kept with the offending field set to nil.
type RowError struct {
	Line    int
	Code    string
	Err     error
	Skipped bool
}

func (e RowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("line %d (%s): %v", e.Line, e.Code, e.Err)
	}
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ReadCSVFile reads a headed CSV file.
func ReadCSVFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ReadCSV parses a CSV stream whose first record is the header. Records with
// a wrong field count are kept with the fields they have; validation happens
// when rows are converted to units. A record that fails to parse is returned
// with Err set and reading continues; only read failures are returned as an
// error.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header")
		}
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	rows := make([]Row, 0)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rows = append(rows, Row{Line: line, Fields: map[string]string{}, Err: parseErr})
				continue
			}
			return nil, err
		}
		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) && name != "" {
				fields[name] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, Row{Line: line, Fields: fields})
	}
	return rows, nil
}

// BuildUnits merges unit rows with their owning plant and converts them to
// units. Rows without a code or valid coordinates are reported and skipped;
// unparsable capacities and dates are reported and stored as nil. One
// malformed row never aborts the whole catalog.
func BuildUnits(unitRows, plantRows []Row) ([]models.Unit, []RowError) {
	var rowErrs []RowError
	plants := make(map[string]map[string]string, len(plantRows))
	for _, p := range plantRows {
		if p.Err != nil {
			rowErrs = append(rowErrs, RowError{Line: p.Line, Err: fmt.Errorf("plant row: %w", p.Err), Skipped: true})
			continue
		}
		if id := p.Fields[ColPlantKey]; id != "" {
			plants[id] = p.Fields
		}
	}

	units := make([]models.Unit, 0, len(unitRows))
	for _, row := range unitRows {
		if row.Err != nil {
			rowErrs = append(rowErrs, RowError{Line: row.Line, Err: row.Err, Skipped: true})
			continue
		}
		merged := make(map[string]string, len(row.Fields))
		for k, v := range row.Fields {
			merged[k] = v
		}
		if plant, ok := plants[row.Fields[ColPlantID]]; ok {
			for k, v := range plant {
				if k == ColPlantKey || k == ColName {
					continue
				}
				merged[k] = v
			}
		}

		code := row.Fields[ColCode]
		unit, warnings, err := convertUnit(merged)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: row.Line, Code: code, Err: err, Skipped: true})
			continue
		}
		for _, w := range warnings {
			rowErrs = append(rowErrs, RowError{Line: row.Line, Code: code, Err: w})
		}
		units = append(units, unit)
	}
	return units, rowErrs
}

// convertUnit returns an error when the row has no identity or location, and
// one warning per field that could not be coerced.
func convertUnit(fields map[string]string) (models.Unit, []error, error) {
	unit := models.Unit{
		Code:       fields[ColCode],
		Name:       fields[ColName],
		PlantID:    fields[ColPlantID],
		Properties: make(map[string]any),
	}
	if unit.Code == "" {
		return unit, nil, errors.New("missing " + ColCode)
	}

	lat, err := parseCoordinate(fields[ColLatitude], -90, 90)
	if err != nil {
		return unit, nil, fmt.Errorf("invalid %s: %w", ColLatitude, err)
	}
	lon, err := parseCoordinate(fields[ColLongitude], -180, 180)
	if err != nil {
		return unit, nil, fmt.Errorf("invalid %s: %w", ColLongitude, err)
	}
	unit.Geometry = models.NewPoint(lat, lon)

	var warnings []error

	for key, value := range fields {
		switch key {
		case ColCode, ColName, ColPlantID, ColLatitude, ColLongitude:
			continue
		}
		switch {
		case strings.HasSuffix(key, capacitySuffix):
			if value == "" {
				unit.Properties[key] = nil
				continue
			}
			f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
			if err != nil {
				unit.Properties[key] = nil
				warnings = append(warnings, fmt.Errorf("invalid %s %q", key, value))
				continue
			}
			unit.Properties[key] = f
		case strings.HasSuffix(key, dateSuffix):
			if value == "" {
				unit.Properties[key] = nil
				continue
			}
			d, err := time.ParseInLocation(dateLayout, value, time.UTC)
			if err != nil {
				unit.Properties[key] = nil
				warnings = append(warnings, fmt.Errorf("invalid %s %q", key, value))
				continue
			}
			unit.Properties[key] = d
		default:
			unit.Properties[key] = value
		}
	}
	sortErrors(warnings)
	return unit, warnings, nil
}

func sortErrors(errs []error) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}

func parseCoordinate(v string, min, max float64) (float64, error) {
	if v == "" {
		return 0, errors.New("missing")
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		return 0, err
	}
	if f < min || f > max {
		return 0, fmt.Errorf("%v out of range", f)
	}
	return f, nil
}
