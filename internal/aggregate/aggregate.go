// Package aggregate joins the transaction table onto the community table and
// resolves cross-row issues the feeds carry: per-community transaction
// counts, cancellation counts and first transaction dates, sale-start dates
// that postdate the first recorded sale, duplicate community filings, and
// the absorption rate.
//
// Transactions match a community through its registration serials when
// possible; communities whose serials never appear fall back to a
// city|district|community composite key. Date comparisons inside this
// package use the ISO key from enrich.NormalizeROCDate, so mixed ROC and AD
// source forms order correctly.
package aggregate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"presale/internal/enrich"
	"presale/internal/table"
)

// Options names the columns the aggregation reads. Zero fields fall back to
// the canonical defaults, which cover both tables: serial/date/cancellation
// columns live on the transaction table, the rest on the community table.
type Options struct {
	SerialColumn     string
	SerialListColumn string
	CodeColumn       string
	CityColumn       string
	DistrictColumn   string
	CommunityColumn  string
	DateColumn       string
	CancelColumn     string
	PermitNoColumn   string
	LongitudeColumn  string
	HouseholdsColumn string
}

func (o Options) withDefaults() Options {
	if o.SerialColumn == "" {
		o.SerialColumn = table.ColSerial
	}
	if o.SerialListColumn == "" {
		o.SerialListColumn = table.ColSerialList
	}
	if o.CodeColumn == "" {
		o.CodeColumn = table.ColCode
	}
	if o.CityColumn == "" {
		o.CityColumn = table.ColCityName
	}
	if o.DistrictColumn == "" {
		o.DistrictColumn = table.ColDistrict
	}
	if o.CommunityColumn == "" {
		o.CommunityColumn = table.ColCommunity
	}
	if o.DateColumn == "" {
		o.DateColumn = table.ColTransactionDate
	}
	if o.CancelColumn == "" {
		o.CancelColumn = table.ColCancellation
	}
	if o.PermitNoColumn == "" {
		o.PermitNoColumn = table.ColPermitNo
	}
	if o.LongitudeColumn == "" {
		o.LongitudeColumn = table.ColLongitude
	}
	if o.HouseholdsColumn == "" {
		o.HouseholdsColumn = table.ColHouseholds
	}
	return o
}

// Stats is the rollup of the transactions under one key.
type Stats struct {
	Transactions  int
	Cancellations int

	// FirstDate is the earliest transaction date among non-cancelled rows,
	// in its source form; firstISO is its normalized ordering key.
	FirstDate string
	firstISO  string
}

// TxStats indexes transaction rollups by serial number and by the
// city|district|community composite key. Every transaction contributes to
// the composite map; only rows with a serial contribute to BySerial.
type TxStats struct {
	BySerial    map[string]Stats
	ByComposite map[string]Stats
}

// TransactionStats builds both rollup maps from the transaction table.
func TransactionStats(tx *table.Table, opt Options) TxStats {
	opt = opt.withDefaults()
	stats := TxStats{
		BySerial:    make(map[string]Stats),
		ByComposite: make(map[string]Stats),
	}
	for i := 0; i < tx.Len(); i++ {
		cancelled := strings.TrimSpace(tx.Get(i, opt.CancelColumn)) != ""
		date := strings.TrimSpace(tx.Get(i, opt.DateColumn))

		if serial := strings.TrimSpace(tx.Get(i, opt.SerialColumn)); serial != "" {
			bump(stats.BySerial, serial, cancelled, date)
		}
		comp := compositeKey(tx.Get(i, opt.CityColumn), tx.Get(i, opt.DistrictColumn), tx.Get(i, opt.CommunityColumn))
		bump(stats.ByComposite, comp, cancelled, date)
	}
	return stats
}

func bump(m map[string]Stats, key string, cancelled bool, date string) {
	s := m[key]
	s.Transactions++
	if cancelled {
		s.Cancellations++
	} else if iso := enrich.NormalizeROCDate(date); iso != "" {
		if s.firstISO == "" || iso < s.firstISO {
			s.firstISO = iso
			s.FirstDate = date
		}
	}
	m[key] = s
}

func compositeKey(city, district, community string) string {
	return city + "|" + district + "|" + community
}

// MergeStats appends transaction_count, cancellation_count and
// first_transaction_date to the community table.
//
// A community's counts are the sums over the serials in its serial list
// that the transaction table knows. When none of its serials is known (or
// the list is empty), the community's composite key is tried instead; when
// that misses too, counts are zero and the date empty.
func MergeStats(community *table.Table, stats TxStats, opt Options) error {
	opt = opt.withDefaults()

	n := community.Len()
	counts := make([]int, n)
	cancels := make([]int, n)
	firsts := make([]string, n)
	for i := 0; i < n; i++ {
		var (
			matched  bool
			txn, cxl int
			first    string
			firstISO string
		)
		for _, id := range enrich.SplitIDList(community.Get(i, opt.SerialListColumn)) {
			s, ok := stats.BySerial[id]
			if !ok {
				continue
			}
			matched = true
			txn += s.Transactions
			cxl += s.Cancellations
			if s.firstISO != "" && (firstISO == "" || s.firstISO < firstISO) {
				firstISO = s.firstISO
				first = s.FirstDate
			}
		}
		if !matched {
			comp := compositeKey(
				community.Get(i, opt.CityColumn),
				community.Get(i, opt.DistrictColumn),
				community.Get(i, opt.CommunityColumn),
			)
			if s, ok := stats.ByComposite[comp]; ok {
				txn, cxl, first = s.Transactions, s.Cancellations, s.FirstDate
			}
		}
		counts[i], cancels[i], firsts[i] = txn, cxl, first
	}

	if err := community.AddColumn(table.ColTransactionCount, func(i int, _ []string) string {
		return strconv.Itoa(counts[i])
	}); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := community.AddColumn(table.ColCancellationCount, func(i int, _ []string) string {
		return strconv.Itoa(cancels[i])
	}); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := community.AddColumn(table.ColFirstTransaction, func(i int, _ []string) string {
		return firsts[i]
	}); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	return nil
}

// ClampSaleStart pulls sale_start back to first_transaction_date on rows
// where sales demonstrably began before the filed start date, and
// recomputes sale_quarter from the replacement. Rows where either date
// fails to normalize are left unchanged.
func ClampSaleStart(t *table.Table) {
	for i := 0; i < t.Len(); i++ {
		startISO := enrich.NormalizeROCDate(t.Get(i, table.ColSaleStart))
		first := t.Get(i, table.ColFirstTransaction)
		firstISO := enrich.NormalizeROCDate(first)
		if startISO == "" || firstISO == "" || firstISO >= startISO {
			continue
		}
		t.Set(i, table.ColSaleStart, first)
		t.Set(i, table.ColSaleQuarter, quarterFromISO(firstISO))
	}
}

// quarterFromISO renders the ROC year-quarter label for an ISO date, so the
// clamped quarter matches enrich.YearQuarter's output for the same day.
func quarterFromISO(iso string) string {
	if len(iso) != 10 {
		return ""
	}
	year, err := strconv.Atoi(iso[:4])
	if err != nil {
		return ""
	}
	month, err := strconv.Atoi(iso[5:7])
	if err != nil || month < 1 || month > 12 {
		return ""
	}
	roc := year - 1911
	if roc < 1 {
		return ""
	}
	return fmt.Sprintf("%03dY%dS", roc, (month+2)/3)
}

// DedupeCommunities collapses rows that file the same project more than
// once: same district, building-permit number, and longitude.
//
// The kept row is the one with the latest sale_start (unparseable dates
// sort earliest; ties break toward the higher transaction count, then the
// earlier input row). Losers' transaction and cancellation counts are
// summed into the kept row, serial lists merge winner-first without
// repeats, the earliest first_transaction_date wins, and the losers'
// community codes land in the kept row's duplicate_of column before the
// loser rows are removed. Rows with all three key fields empty never group.
func DedupeCommunities(t *table.Table, opt Options) error {
	opt = opt.withDefaults()
	if err := t.AddColumn(table.ColDuplicateOf, nil); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	groups := make(map[string][]int)
	var order []string
	for i := 0; i < t.Len(); i++ {
		district := t.Get(i, opt.DistrictColumn)
		permit := t.Get(i, opt.PermitNoColumn)
		lng := t.Get(i, opt.LongitudeColumn)
		if district == "" && permit == "" && lng == "" {
			continue
		}
		key := district + "|" + permit + "|" + lng
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	dropped := make(map[int]bool)
	for _, key := range order {
		rows := groups[key]
		if len(rows) < 2 {
			continue
		}
		w := pickWinner(t, rows)

		txn := countValue(t.Get(w, table.ColTransactionCount))
		cxl := countValue(t.Get(w, table.ColCancellationCount))
		first := t.Get(w, table.ColFirstTransaction)
		firstISO := enrich.NormalizeROCDate(first)

		seen := make(map[string]bool)
		var serials []string
		addSerials := func(list string) {
			for _, id := range enrich.SplitIDList(list) {
				if !seen[id] {
					seen[id] = true
					serials = append(serials, id)
				}
			}
		}
		addSerials(t.Get(w, opt.SerialListColumn))

		var codes []string
		for _, i := range rows {
			if i == w {
				continue
			}
			txn += countValue(t.Get(i, table.ColTransactionCount))
			cxl += countValue(t.Get(i, table.ColCancellationCount))
			addSerials(t.Get(i, opt.SerialListColumn))
			if iso := enrich.NormalizeROCDate(t.Get(i, table.ColFirstTransaction)); iso != "" && (firstISO == "" || iso < firstISO) {
				firstISO = iso
				first = t.Get(i, table.ColFirstTransaction)
			}
			if code := strings.TrimSpace(t.Get(i, opt.CodeColumn)); code != "" {
				codes = append(codes, code)
			}
			dropped[i] = true
		}

		t.Set(w, table.ColTransactionCount, strconv.Itoa(txn))
		t.Set(w, table.ColCancellationCount, strconv.Itoa(cxl))
		t.Set(w, table.ColFirstTransaction, first)
		t.Set(w, opt.SerialListColumn, strings.Join(serials, ", "))
		t.Set(w, table.ColDuplicateOf, strings.Join(codes, ", "))
	}

	if len(dropped) > 0 {
		kept := make([][]string, 0, t.Len()-len(dropped))
		for i, r := range t.Rows {
			if !dropped[i] {
				kept = append(kept, r)
			}
		}
		t.Rows = kept
	}
	return nil
}

func pickWinner(t *table.Table, rows []int) int {
	best := rows[0]
	bestISO := enrich.NormalizeROCDate(t.Get(best, table.ColSaleStart))
	bestCount := countValue(t.Get(best, table.ColTransactionCount))
	for _, i := range rows[1:] {
		iso := enrich.NormalizeROCDate(t.Get(i, table.ColSaleStart))
		count := countValue(t.Get(i, table.ColTransactionCount))
		if iso > bestISO || (iso == bestISO && count > bestCount) {
			best, bestISO, bestCount = i, iso, count
		}
	}
	return best
}

func countValue(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// AbsorptionRate appends absorption_rate: net transactions (count minus
// cancellations) over households, clipped to [0, 1] and rounded to four
// decimals. Households missing, zero, or unparseable yield "0".
func AbsorptionRate(t *table.Table, opt Options) error {
	opt = opt.withDefaults()
	err := t.AddColumn(table.ColAbsorptionRate, func(i int, _ []string) string {
		hh, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t.Get(i, opt.HouseholdsColumn)), ",", ""), 64)
		if err != nil || hh <= 0 {
			return "0"
		}
		net := countValue(t.Get(i, table.ColTransactionCount)) - countValue(t.Get(i, table.ColCancellationCount))
		rate := float64(net) / hh
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		return strconv.FormatFloat(math.Round(rate*10000)/10000, 'f', -1, 64)
	})
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	return nil
}
