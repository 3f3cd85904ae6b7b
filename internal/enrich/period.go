package enrich

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pre-compiled regexes avoid recompilation on every call.
var (
	reDelims      = regexp.MustCompile(`[；;，]`)
	reSelfLabel   = regexp.MustCompile(`(?i).*?自售[:：]?`)
	reAgencyLabel = regexp.MustCompile(`(?i).*?代銷[:：]?`)

	reSevenDigits = regexp.MustCompile(`\d{7}`)
	reYMDWords    = regexp.MustCompile(`(\d{3})年(\d{1,2})月(\d{1,2})[日號]`)
	reYMDSlashes  = regexp.MustCompile(`(\d{3})/(\d{1,2})/(\d{1,2})`)
)

// SplitSalePeriod splits the free-form 銷售期間 string into the self-sale and
// agency-sale sub-periods.
//
// Rules, in order:
//
//   - ""、"無" (after trimming) → both parts empty.
//   - Full-width and half-width delimiters（；;，）all count as ","; the
//     string splits on them, blank segments dropped.
//   - A segment containing 「自售」 fills the self slot with everything up to
//     and including the label (plus an optional colon) stripped; 「代銷」
//     fills the agency slot the same way. A later labeled segment overwrites
//     an earlier value in its slot.
//   - An unlabeled segment fills the self slot if empty, else the agency
//     slot if empty, else is dropped. Unlabeled segments never overwrite.
//
// No date validation happens here; the parts keep their original text.
func SplitSalePeriod(s string) (selfPeriod, agencyPeriod string) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "無" {
		return "", ""
	}
	for _, part := range strings.Split(reDelims.ReplaceAllString(trimmed, ","), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case strings.Contains(part, "自售"):
			selfPeriod = strings.TrimSpace(reSelfLabel.ReplaceAllString(part, ""))
		case strings.Contains(part, "代銷"):
			agencyPeriod = strings.TrimSpace(reAgencyLabel.ReplaceAllString(part, ""))
		case selfPeriod == "":
			selfPeriod = part
		case agencyPeriod == "":
			agencyPeriod = part
		}
	}
	return selfPeriod, agencyPeriod
}

// FirstSaleDate finds the start date in a sale-period string and returns it
// as the compact 7-digit ROC form (YYYMMDD), scanning left to right.
//
// Three shapes are recognized, tried in order:
//
//	1110701                  returned as-is
//	111年07月01日 / 111年8月1號   month and day zero-padded
//	111/07/01 / 111/7/1      month and day zero-padded
//
// Nothing recognizable → "". Calendar validity is not checked beyond the
// digit counts.
func FirstSaleDate(s string) string {
	if m := reSevenDigits.FindString(s); m != "" {
		return m
	}
	if m := reYMDWords.FindStringSubmatch(s); m != nil {
		return m[1] + pad2(m[2]) + pad2(m[3])
	}
	if m := reYMDSlashes.FindStringSubmatch(s); m != nil {
		return m[1] + pad2(m[2]) + pad2(m[3])
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// ResolveSaleStart picks the single sale start date for a community.
//
// Policy:
//
//  1. Exactly one of selfStart/agencyStart present → that one.
//  2. Both present → both parsed as integers, the smaller (earlier compact
//     ROC date) wins; a parse failure on either yields "".
//  3. Both absent → the review completion date if present, else the building
//     permit issue date, else "".
func ResolveSaleStart(selfStart, agencyStart, reviewDate, permitDate string) string {
	selfStart = strings.TrimSpace(selfStart)
	agencyStart = strings.TrimSpace(agencyStart)
	switch {
	case selfStart != "" && agencyStart == "":
		return selfStart
	case selfStart == "" && agencyStart != "":
		return agencyStart
	case selfStart != "" && agencyStart != "":
		a, errA := strconv.Atoi(selfStart)
		b, errB := strconv.Atoi(agencyStart)
		if errA != nil || errB != nil {
			return ""
		}
		return strconv.Itoa(min(a, b))
	}
	if r := strings.TrimSpace(reviewDate); r != "" {
		return r
	}
	return strings.TrimSpace(permitDate)
}

// YearQuarter renders a compact ROC date (YYYMMDD) as the ROC year-quarter
// label used in the reports, e.g. "1130615" → "113Y2S".
//
// The first three runes are the year, the next two the month; anything too
// short, a non-numeric month, or a month outside 1–12 yields "".
func YearQuarter(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) < 5 {
		return ""
	}
	month, err := strconv.Atoi(string(runes[3:5]))
	if err != nil || month < 1 || month > 12 {
		return ""
	}
	return fmt.Sprintf("%sY%dS", string(runes[:3]), (month-1)/3+1)
}
