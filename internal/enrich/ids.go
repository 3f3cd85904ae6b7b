package enrich

import (
	"regexp"
	"strings"
)

// Registration serials are 10 to 16 uppercase alphanumerics, e.g.
// "C11202A10268".
var reSerial = regexp.MustCompile(`\b[A-Z0-9]{10,16}\b`)

// SerialIDs extracts every registration serial from a flattened id-list cell
// and joins them with ", ". No serials → "".
func SerialIDs(s string) string {
	return strings.Join(reSerial.FindAllString(s, -1), ", ")
}

// SplitIDList parses a serial-list cell (as produced by SerialIDs, or as
// carried in the source) back into individual serials. Segments are split on
// commas and stripped of whitespace and stray quotes; blanks are dropped.
func SplitIDList(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `'"`)
		if part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// CompanyFor finds the builder company for a community in its id-list cell.
//
// The id list flattens the source array with itemSep; each item is a
// comma-separated record whose first field is a community code and whose
// third is the company name. The item whose code matches yields the company;
// no match → "".
func CompanyFor(code, idList, itemSep string) string {
	code = strings.TrimSpace(code)
	if code == "" || idList == "" {
		return ""
	}
	if itemSep == "" {
		itemSep = DefaultItemSeparator
	}
	for _, item := range strings.Split(idList, itemSep) {
		parts := strings.Split(item, ",")
		if len(parts) >= 3 && strings.TrimSpace(parts[0]) == code {
			return strings.TrimSpace(parts[2])
		}
	}
	return ""
}
