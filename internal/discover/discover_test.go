package discover

import (
	"reflect"
	"testing"
)

const portalPage = `
<html><body>
  <div class="dataset">
    <a class="resource" href="/api/v1/rest/datastore/F85011?format=json">臺北市預售屋</a>
    <a class="resource" href="https://data.example.gov.tw/api/v1/rest/datastore/F85012?format=json">新北市預售屋</a>
    <a class="resource" href="mailto:opendata@example.gov.tw">聯絡我們</a>
    <a class="other" href="/api/v1/rest/datastore/F99999?format=json">不相關</a>
    <a class="resource">無連結</a>
  </div>
</body></html>`

// TestFragments_ResolvesAndFilters verifies the full extraction path:
// relative hrefs resolve against the page URL, non-http(s) targets drop,
// non-matching anchors are ignored, and the match group becomes the suffix.
func TestFragments_ResolvesAndFilters(t *testing.T) {
	t.Parallel()

	got, err := Fragments(portalPage, "https://data.example.gov.tw/datasets/presale", Selector{
		CSS:   "a.resource",
		Match: `datastore/(F\d+)`,
	})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}

	want := []Fragment{
		{
			Suffix: "F85011",
			Name:   "臺北市預售屋",
			URL:    "https://data.example.gov.tw/api/v1/rest/datastore/F85011?format=json",
		},
		{
			Suffix: "F85012",
			Name:   "新北市預售屋",
			URL:    "https://data.example.gov.tw/api/v1/rest/datastore/F85012?format=json",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fragments = %#v, want %#v", got, want)
	}
}

// TestFragments_NoMatchKeepsFullLink verifies a match regexp without
// capturing groups uses the full match, and no regexp keeps the whole
// resolved link.
func TestFragments_NoMatchKeepsFullLink(t *testing.T) {
	t.Parallel()

	page := `<a class="r" href="/path/one">一</a>`

	got, err := Fragments(page, "https://portal.example.tw/list", Selector{CSS: "a.r"})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(got) != 1 || got[0].Suffix != "https://portal.example.tw/path/one" {
		t.Fatalf("fragments = %#v", got)
	}

	got, err = Fragments(page, "https://portal.example.tw/list", Selector{
		CSS:   "a.r",
		Match: `path/\w+`,
	})
	if err != nil {
		t.Fatalf("Fragments with match: %v", err)
	}
	if len(got) != 1 || got[0].Suffix != "path/one" {
		t.Fatalf("fragments = %#v", got)
	}
}

// TestFragments_CustomAttr verifies a non-href link attribute.
func TestFragments_CustomAttr(t *testing.T) {
	t.Parallel()

	page := `<a class="r" data-url="/d/F777" href="/ignored">南市</a>`

	got, err := Fragments(page, "https://portal.example.tw", Selector{
		CSS:   "a.r",
		Attr:  "data-url",
		Match: `/d/(F\d+)`,
	})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(got) != 1 || got[0].Suffix != "F777" || got[0].Name != "南市" {
		t.Fatalf("fragments = %#v", got)
	}
}

// TestFragments_StripsDocumentFragments verifies #section anchors dedupe to
// the plain document URL.
func TestFragments_StripsDocumentFragments(t *testing.T) {
	t.Parallel()

	page := `<a class="r" href="/d/F1#intro">甲</a>`
	got, err := Fragments(page, "https://portal.example.tw", Selector{CSS: "a.r"})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://portal.example.tw/d/F1" {
		t.Fatalf("fragments = %#v", got)
	}
}

func TestFragments_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Fragments("<a></a>", "https://x.tw", Selector{}); err == nil {
		t.Error("expected error for empty selector")
	}
	if _, err := Fragments("<a></a>", "https://x.tw", Selector{CSS: "a", Match: "("}); err == nil {
		t.Error("expected error for invalid regexp")
	}
	if _, err := Fragments("<a></a>", "://bad", Selector{CSS: "a"}); err == nil {
		t.Error("expected error for unparseable page url")
	}
}

// TestFragments_EmptyPage verifies no matches produce an empty, error-free
// result.
func TestFragments_EmptyPage(t *testing.T) {
	t.Parallel()

	got, err := Fragments("<html><body></body></html>", "https://x.tw", Selector{CSS: "a.r"})
	if err != nil {
		t.Fatalf("Fragments: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("fragments = %#v, want none", got)
	}
}
