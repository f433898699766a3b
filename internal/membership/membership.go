// Package membership loads de-identified membership group lists, such as
// listening groups, from CSV files.
package membership

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// UUIDColumn is the CSV column holding participant uuids
const UUIDColumn = "avf-participant-uuid"

// LoadCSV reads the uuid column of a membership CSV. Blank cells are skipped.
func LoadCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("membership CSV is empty")
		}
		return nil, fmt.Errorf("failed to read membership CSV header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == UUIDColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("membership CSV has no %s column", UUIDColumn)
	}

	var uuids []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read membership CSV: %w", err)
		}
		if col >= len(row) {
			continue
		}
		if uuid := strings.TrimSpace(row[col]); uuid != "" {
			uuids = append(uuids, uuid)
		}
	}
	return uuids, nil
}

// LoadGroups reads every group's files and returns group name to uuids
func LoadGroups(groups map[string][]string) (map[string][]string, error) {
	out := make(map[string][]string, len(groups))
	for name, paths := range groups {
		var members []string
		for _, path := range paths {
			uuids, err := loadFile(path)
			if err != nil {
				return nil, fmt.Errorf("membership group %s: %w", name, err)
			}
			members = append(members, uuids...)
		}
		out[name] = members
	}
	return out, nil
}

func loadFile(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	uuids, err := LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return uuids, nil
}
