package settings

import (
	"strings"
	"sync"

	"skywatch/internal/filter"
	"skywatch/internal/model"
)

// Classification labels returned by Match. Only matches whose label starts
// with "white" may trigger a flip notification.
const (
	LabelWhitelist = "whitelist"
	LabelBlacklist = "blacklist"
)

// ListEntry is one whitelist or blacklist rule: an item tag, an optional
// predicate filter, or both.
type ListEntry struct {
	Tag         string            `json:"tag,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Filter      map[string]string `json:"filter,omitempty"`

	compileOnce sync.Once
	matcher     filter.Matcher
	compileErr  error
}

// matches evaluates the entry against a listing. A malformed entry filter
// never matches.
func (e *ListEntry) matches(a *model.Auction) bool {
	if e.Tag != "" && e.Tag != a.Tag {
		return false
	}
	if len(e.Filter) == 0 {
		return e.Tag != ""
	}
	e.compileOnce.Do(func() {
		e.matcher, e.compileErr = filter.Compile(e.Filter)
	})
	if e.compileErr != nil {
		return false
	}
	ok, err := e.matcher(a)
	if err != nil {
		return false
	}
	return ok
}

// FlipSettings is a user's live flip preference document. The store keeps
// it up to date; the index holds a handle per filter subscription.
type FlipSettings struct {
	Whitelist []*ListEntry `json:"whitelist,omitempty"`
	Blacklist []*ListEntry `json:"blacklist,omitempty"`
	MinProfit int64        `json:"minProfit,omitempty"`
}

// Match evaluates the listing against the settings. It returns whether any
// entry matched and the classification label of the first matching entry;
// blacklist entries shadow whitelist entries.
func (s *FlipSettings) Match(a *model.Auction) (bool, string) {
	for _, e := range s.Blacklist {
		if e.matches(a) {
			return true, LabelBlacklist
		}
	}
	for _, e := range s.Whitelist {
		if e.matches(a) {
			return true, LabelWhitelist
		}
	}
	return false, ""
}

// IsWhitelisted reports whether a match label gates a flip notification.
func IsWhitelisted(label string) bool {
	return strings.HasPrefix(label, "white")
}
