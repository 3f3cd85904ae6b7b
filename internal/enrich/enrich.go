// Package enrich derives the analysis columns of the community table from
// the raw filing fields: the administrative district from the street address,
// the self-sale and agency-sale periods and their start dates from the
// free-form sale-period string, the resolved sale start and its ROC
// year-quarter, and the registration serial list and builder name from the
// filing id list.
//
// All helpers are pure string functions. Absent or malformed input yields an
// empty string, never an error; callers treat "" as "not derivable".
package enrich

import (
	"fmt"

	"presale/internal/table"
)

// Options names the input columns the derivation pass reads. Zero-value
// fields fall back to the canonical column names.
type Options struct {
	AddressColumn    string
	SalePeriodColumn string
	ReviewDateColumn string
	PermitDateColumn string
	IDListColumn     string
	CodeColumn       string

	// ItemSeparator splits the id-list cell into filing items. It must match
	// the array join separator the parser flattened the source array with.
	ItemSeparator string
}

func (o Options) withDefaults() Options {
	if o.AddressColumn == "" {
		o.AddressColumn = table.ColAddress
	}
	if o.SalePeriodColumn == "" {
		o.SalePeriodColumn = table.ColSalePeriod
	}
	if o.ReviewDateColumn == "" {
		o.ReviewDateColumn = table.ColReviewDate
	}
	if o.PermitDateColumn == "" {
		o.PermitDateColumn = table.ColPermitDate
	}
	if o.IDListColumn == "" {
		o.IDListColumn = table.ColIDList
	}
	if o.CodeColumn == "" {
		o.CodeColumn = table.ColCode
	}
	if o.ItemSeparator == "" {
		o.ItemSeparator = DefaultItemSeparator
	}
	return o
}

// DefaultItemSeparator is the default join separator for flattened id-list
// cells. It matches the parser default, and cannot collide with the commas
// inside a filing item.
const DefaultItemSeparator = "、"

// Apply appends the derived columns to t, in order: district, self and
// agency sale periods, self and agency start dates, resolved sale start,
// sale quarter. When the id-list column is present it also appends the
// serial list, and, when the community-code column is present too, the
// builder name.
//
// Each derived column is appended exactly once; applying to a table that
// already carries one of them is an error.
func Apply(t *table.Table, opt Options) error {
	o := opt.withDefaults()

	if err := t.AddColumn(table.ColDistrict, func(i int, _ []string) string {
		return AdminRegion(t.Get(i, o.AddressColumn))
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	selfPeriod := make([]string, t.Len())
	agencyPeriod := make([]string, t.Len())
	for i := 0; i < t.Len(); i++ {
		selfPeriod[i], agencyPeriod[i] = SplitSalePeriod(t.Get(i, o.SalePeriodColumn))
	}
	if err := t.AddColumn(table.ColSelfPeriod, func(i int, _ []string) string {
		return selfPeriod[i]
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if err := t.AddColumn(table.ColAgencyPeriod, func(i int, _ []string) string {
		return agencyPeriod[i]
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	selfStart := make([]string, t.Len())
	agencyStart := make([]string, t.Len())
	for i := range selfPeriod {
		selfStart[i] = FirstSaleDate(selfPeriod[i])
		agencyStart[i] = FirstSaleDate(agencyPeriod[i])
	}
	if err := t.AddColumn(table.ColSelfStart, func(i int, _ []string) string {
		return selfStart[i]
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if err := t.AddColumn(table.ColAgencyStart, func(i int, _ []string) string {
		return agencyStart[i]
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	if err := t.AddColumn(table.ColSaleStart, func(i int, _ []string) string {
		return ResolveSaleStart(selfStart[i], agencyStart[i],
			t.Get(i, o.ReviewDateColumn), t.Get(i, o.PermitDateColumn))
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if err := t.AddColumn(table.ColSaleQuarter, func(i int, row []string) string {
		return YearQuarter(t.Get(i, table.ColSaleStart))
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}

	if !t.Has(o.IDListColumn) {
		return nil
	}
	if err := t.AddColumn(table.ColSerialList, func(i int, _ []string) string {
		return SerialIDs(t.Get(i, o.IDListColumn))
	}); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if t.Has(o.CodeColumn) {
		if err := t.AddColumn(table.ColBuilder, func(i int, _ []string) string {
			return CompanyFor(t.Get(i, o.CodeColumn), t.Get(i, o.IDListColumn), o.ItemSeparator)
		}); err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
	}
	return nil
}

// District markers recognized by AdminRegion. 市 here is the
// county-administered city suffix; the county or special-municipality prefix
// is not part of the address in this dataset.
const districtMarkers = "區鄉鎮市"

// AdminRegion extracts the administrative district from a street address.
//
// Districts in the source addresses come first and end at a marker rune
// (區, 鄉, 鎮, or 市) in the second or third position: 「中山區中山北路…」 →
// 「中山區」. Addresses with no marker there, and empty input, yield "".
func AdminRegion(address string) string {
	runes := []rune(address)
	if len(runes) >= 2 && isDistrictMarker(runes[1]) {
		return string(runes[:2])
	}
	if len(runes) >= 3 && isDistrictMarker(runes[2]) {
		return string(runes[:3])
	}
	return ""
}

func isDistrictMarker(r rune) bool {
	for _, m := range districtMarkers {
		if r == m {
			return true
		}
	}
	return false
}
