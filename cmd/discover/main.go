package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"presale/internal/config"
	"presale/internal/discover"
	"presale/internal/fetch"
)

// fragmentsDoc is the JSON document printed on success. The fragments array
// matches the pipeline configuration schema, so it pastes straight into a
// dataset's "fragments" field.
type fragmentsDoc struct {
	Fragments []discover.Fragment `json:"fragments"`
}

// run is the testable entrypoint for this command.
//
// It loads the portal page (HTTP via -url, or a local file via -file),
// extracts the dataset links selected by -css, and prints them as a JSON
// fragments block.
//
// Exit codes:
//   - 0 on success
//   - 1 on operational errors (fetch/read failure, bad selector regexp, no
//     links matched)
//   - 2 on invalid CLI usage (bad flags)
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		pageURL string
		file    string
		baseURL string
		css     string
		attr    string
		match   string
		timeout int
	)

	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&pageURL, "url", "", "portal page URL to fetch")
	fs.StringVar(&file, "file", "", "local HTML file to read instead of fetching")
	fs.StringVar(&baseURL, "base", "", "base URL for resolving relative links read from -file")
	fs.StringVar(&css, "css", "", "CSS selector for the dataset links")
	fs.StringVar(&attr, "attr", "href", "link attribute to read")
	fs.StringVar(&match, "match", "", "optional regexp; group 1 (or the whole match) becomes the suffix")
	fs.IntVar(&timeout, "timeout", 30, "fetch timeout in seconds")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if css == "" {
		fmt.Fprintln(stderr, "missing required -css <selector>")
		return 2
	}
	if pageURL == "" && file == "" {
		fmt.Fprintln(stderr, "one of -url or -file is required")
		return 2
	}
	if pageURL != "" && file != "" {
		fmt.Fprintln(stderr, "-url and -file are mutually exclusive")
		return 2
	}

	var page []byte
	base := pageURL
	if file != "" {
		var err error
		page, err = os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(stderr, "read page: %v\n", err)
			return 1
		}
		base = baseURL
	} else {
		client := fetch.New("discover", config.Fetch{TimeoutSeconds: timeout})
		var err error
		page, err = client.Fetch(ctx, pageURL)
		if err != nil {
			fmt.Fprintf(stderr, "fetch page: %v\n", err)
			return 1
		}
	}

	frags, err := discover.Fragments(string(page), base, discover.Selector{CSS: css, Attr: attr, Match: match})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if len(frags) == 0 {
		fmt.Fprintln(stderr, "no links matched")
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	// Keep & and friends literal so the block pastes into config unchanged.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fragmentsDoc{Fragments: frags}); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
