package distill

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FluffPattern is a catalog-configurable boilerplate matcher. It unmarshals
// from a JSON string so industry pattern files can carry their own fluff, and
// invalid expressions fail at load time rather than per scrape.
type FluffPattern struct {
	re *regexp.Regexp
}

// NewFluffPattern compiles expr into a fluff pattern.
func NewFluffPattern(expr string) (FluffPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return FluffPattern{}, fmt.Errorf("fluff pattern %q: %w", expr, err)
	}
	return FluffPattern{re: re}, nil
}

func (p *FluffPattern) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err != nil {
		return err
	}
	compiled, err := NewFluffPattern(expr)
	if err != nil {
		return err
	}
	*p = compiled
	return nil
}

func (p FluffPattern) MarshalJSON() ([]byte, error) {
	if p.re == nil {
		return json.Marshal("")
	}
	return json.Marshal(p.re.String())
}

// FluffRegexps returns the compiled fluff patterns configured for the set,
// skipping zero-value entries.
func (s PatternSet) FluffRegexps() []*regexp.Regexp {
	if len(s.Fluff) == 0 {
		return nil
	}
	out := make([]*regexp.Regexp, 0, len(s.Fluff))
	for _, p := range s.Fluff {
		if p.re != nil {
			out = append(out, p.re)
		}
	}
	return out
}

// Default fluff patterns: boilerplate stripped before signal detection so
// legal and cookie text never contributes occurrences.
var defaultFluffPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)copyright\s+(©\s*)?\d{4}[^.\n]*`),
	regexp.MustCompile(`(?i)©\s*\d{4}[^.\n]*`),
	regexp.MustCompile(`(?i)all rights reserved\.?`),
	regexp.MustCompile(`(?i)privacy policy`),
	regexp.MustCompile(`(?i)terms (of|and) (service|use|conditions)`),
	regexp.MustCompile(`(?i)(this (web)?site|we) uses? cookies[^.\n]*`),
	regexp.MustCompile(`(?i)accept (all )?cookies`),
	regexp.MustCompile(`(?i)cookie (settings|preferences|policy)`),
	regexp.MustCompile(`(?i)powered by [a-z0-9 .]+`),
	regexp.MustCompile(`(?i)subscribe to our newsletter[^.\n]*`),
	regexp.MustCompile(`(?i)follow us on [a-z, ]+`),
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// RemoveFluff strips boilerplate (copyright lines, privacy links, cookie
// banners) using the supplied extra patterns plus the built-in set, then
// collapses repeated whitespace to single spaces.
func (e *Engine) RemoveFluff(content string, extra []*regexp.Regexp) string {
	for _, re := range defaultFluffPatterns {
		content = re.ReplaceAllString(content, " ")
	}
	for _, re := range extra {
		if re == nil {
			continue
		}
		content = re.ReplaceAllString(content, " ")
	}
	return collapseWhitespace(content)
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
