package parser

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// parseCSV expects a header row; columns are matched against the shared
// candidate key sets and unknown columns become metadata.
func (p *Parser) parseCSV(content string, result *ParseResult) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		result.addError("csv parse: " + err.Error())
		return
	}
	if len(records) < 2 {
		result.addError("csv: need a header row and at least one data row")
		return
	}

	header := records[0]
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	for lineNo, record := range records[1:] {
		fields := map[string]string{}
		for i, value := range record {
			if i >= len(header) || header[i] == "" {
				continue
			}
			fields[header[i]] = value
		}
		host := hostFromFields(fields)
		if host.Hostname == "" {
			result.addWarning(fmt.Sprintf("csv row %d: no hostname column value, skipped", lineNo+2))
			continue
		}
		result.Hosts = append(result.Hosts, host)
	}
}
