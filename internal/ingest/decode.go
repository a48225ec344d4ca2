package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"grantwatch/internal/domain"
)

// ErrUnsupportedFormat is returned for files whose extension has no decoder.
var ErrUnsupportedFormat = errors.New("unsupported record format")

// DecodeFile reads all grant records in path, choosing the decoder by extension.
func DecodeFile(path string) ([]domain.Grant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeJSON(f)
	case ".jsonl", ".ndjson":
		return DecodeJSONLines(f)
	case ".yaml", ".yml":
		return DecodeYAML(f)
	case ".csv":
		return DecodeCSV(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// DecodeJSON accepts an array of records, a single record, or {"grants": [...]}.
func DecodeJSON(r io.Reader) ([]domain.Grant, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var grants []domain.Grant
		if err := json.Unmarshal(data, &grants); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		return grants, nil
	}

	var wrapped struct {
		Grants []domain.Grant `json:"grants"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Grants != nil {
		return wrapped.Grants, nil
	}

	var single domain.Grant
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode JSON object: %w", err)
	}
	return []domain.Grant{single}, nil
}

// DecodeJSONLines reads one JSON record per line. Blank lines are skipped.
func DecodeJSONLines(r io.Reader) ([]domain.Grant, error) {
	var grants []domain.Grant
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var g domain.Grant
		if err := json.Unmarshal(text, &g); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		grants = append(grants, g)
	}
	return grants, scanner.Err()
}

// DecodeYAML accepts a list of records or a single record.
func DecodeYAML(r io.Reader) ([]domain.Grant, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	doc := node.Content[0]
	if doc.Kind == yaml.SequenceNode {
		var grants []domain.Grant
		if err := doc.Decode(&grants); err != nil {
			return nil, fmt.Errorf("decode YAML list: %w", err)
		}
		return grants, nil
	}

	var single domain.Grant
	if err := doc.Decode(&single); err != nil {
		return nil, fmt.Errorf("decode YAML record: %w", err)
	}
	return []domain.Grant{single}, nil
}

// csvColumns maps export column names to record fields.
var csvColumns = map[string]func(*domain.Grant, string){
	"OPPORTUNITY_ID":          func(g *domain.Grant, v string) { g.ID = v },
	"OPPORTUNITY_TITLE":       func(g *domain.Grant, v string) { g.Title = v },
	"AGENCY_NAME":             func(g *domain.Grant, v string) { g.Agency = v },
	"FUNDING_DESCRIPTION":     func(g *domain.Grant, v string) { g.Description = v },
	"OPPORTUNITY_CATEGORY":    func(g *domain.Grant, v string) { g.Category = v },
	"FUNDING_INSTRUMENT_TYPE": func(g *domain.Grant, v string) { g.InstrumentType = v },
	"POSTED_DATE":             func(g *domain.Grant, v string) { g.PostedDate = v },
	"CLOSE_DATE":              func(g *domain.Grant, v string) { g.CloseDate = v },
	"AWARD_CEILING":           func(g *domain.Grant, v string) { g.AwardCeiling = v },
}

// DecodeCSV reads a header row of export column names followed by records.
// Unknown columns are ignored; OPPORTUNITY_ID is required.
func DecodeCSV(r io.Reader) ([]domain.Grant, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	setters := make([]func(*domain.Grant, string), len(header))
	hasID := false
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		setters[i] = csvColumns[col]
		if col == "OPPORTUNITY_ID" {
			hasID = true
		}
	}
	if !hasID {
		return nil, fmt.Errorf("CSV header has no OPPORTUNITY_ID column")
	}

	var grants []domain.Grant
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		var g domain.Grant
		for i, v := range row {
			if i < len(setters) && setters[i] != nil {
				setters[i](&g, v)
			}
		}
		grants = append(grants, g)
	}
	return grants, nil
}
