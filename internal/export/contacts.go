// Package export writes audiences in formats that can be uploaded to the
// contact service by hand.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
)

// HeaderPrefix starts every column header of a contacts CSV
const HeaderPrefix = "URN:"

// WriteContactsCSV writes urns as a RapidPro contact import file. There is
// one URN:<namespace> column per namespace and one row per distinct urn,
// with only that urn's column filled in. Columns and rows are sorted.
func WriteContactsCSV(w io.Writer, urns []string) (int, error) {
	type row struct{ namespace, value string }

	seen := make(map[string]struct{}, len(urns))
	namespaces := make(map[string]struct{})
	rows := make([]row, 0, len(urns))
	for _, urn := range urns {
		if _, ok := seen[urn]; ok {
			continue
		}
		seen[urn] = struct{}{}

		namespace, value, ok := strings.Cut(urn, ":")
		if !ok || namespace == "" || value == "" {
			return 0, fmt.Errorf("invalid urn %q: expected namespace:value", urn)
		}
		namespaces[namespace] = struct{}{}
		rows = append(rows, row{namespace: namespace, value: value})
	}

	headers := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		headers = append(headers, ns)
	}
	sort.Strings(headers)
	column := make(map[string]int, len(headers))
	for i, ns := range headers {
		column[ns] = i
		headers[i] = HeaderPrefix + ns
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].namespace != rows[j].namespace {
			return rows[i].namespace < rows[j].namespace
		}
		return rows[i].value < rows[j].value
	})

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range rows {
		record := make([]string, len(headers))
		record[column[r.namespace]] = r.value
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush contacts csv: %w", err)
	}
	return len(rows), nil
}
