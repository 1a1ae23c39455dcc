package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/rebootcamp/attendsync/internal/schema"
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or a phrase like "yesterday" or "last sunday",
// resolved against now. Empty input stays empty so the service picks today.
func parseDate(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}
	if t, err := time.Parse(schema.DateLayout, input); err == nil {
		return t.Format(schema.DateLayout), nil
	}

	r, err := dateParser.Parse(input, now)
	if err != nil {
		return "", fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return "", fmt.Errorf("unrecognized date %q (use YYYY-MM-DD or e.g. \"yesterday\")", input)
	}
	return r.Time.In(now.Location()).Format(schema.DateLayout), nil
}
