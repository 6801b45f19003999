// Package filter compiles user-supplied predicate specifications into
// matcher functions over auction records. A specification is a flat mapping
// of field name to value or range expression; the field catalog is fixed.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"skywatch/internal/model"
)

// Matcher is a compiled predicate. Evaluation can fail when the record's
// attribute lookup is missing an expected key; callers retry once after
// rebuilding the lookup.
type Matcher func(*model.Auction) (bool, error)

// ErrUnknownAttribute is returned when a predicate references an attribute
// absent from the record's lookup.
var ErrUnknownAttribute = errors.New("attribute not present in lookup")

type predicate func(*model.Auction) (bool, error)

// Compile turns a filter specification into a matcher. It returns an error
// for malformed specifications (bad numbers, unparsable ranges); the
// matcher itself never panics.
func Compile(spec map[string]string) (Matcher, error) {
	preds := make([]predicate, 0, len(spec))
	for key, value := range spec {
		p, err := compileField(key, value)
		if err != nil {
			return nil, fmt.Errorf("filter field %q: %w", key, err)
		}
		preds = append(preds, p)
	}
	return func(a *model.Auction) (bool, error) {
		for _, p := range preds {
			ok, err := p(a)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}, nil
}

func compileField(key, value string) (predicate, error) {
	switch strings.ToLower(key) {
	case "itemname":
		needle := strings.ToLower(value)
		return func(a *model.Auction) (bool, error) {
			return strings.Contains(strings.ToLower(a.ItemName), needle), nil
		}, nil
	case "tag":
		return func(a *model.Auction) (bool, error) {
			return a.Tag == value, nil
		}, nil
	case "rarity", "tier":
		want := strings.ToUpper(value)
		return func(a *model.Auction) (bool, error) {
			return strings.ToUpper(a.Tier) == want, nil
		}, nil
	case "reforge":
		return func(a *model.Auction) (bool, error) {
			return strings.EqualFold(a.Reforge, value), nil
		}, nil
	case "bin":
		want, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		return func(a *model.Auction) (bool, error) {
			return a.Bin == want, nil
		}, nil
	case "minprice":
		min, err := parsePrice(value)
		if err != nil {
			return nil, err
		}
		return func(a *model.Auction) (bool, error) {
			return a.StartingBid >= min, nil
		}, nil
	case "maxprice":
		max, err := parsePrice(value)
		if err != nil {
			return nil, err
		}
		return func(a *model.Auction) (bool, error) {
			return a.StartingBid <= max, nil
		}, nil
	default:
		return compileAttribute(strings.ToLower(key), value)
	}
}

// compileAttribute matches against the record's lazily computed attribute
// lookup. Values are exact matches or numeric "min-max" ranges.
func compileAttribute(key, value string) (predicate, error) {
	if min, max, ok := strings.Cut(value, "-"); ok {
		lo, errLo := strconv.ParseInt(min, 10, 64)
		hi, errHi := strconv.ParseInt(max, 10, 64)
		if errLo == nil && errHi == nil {
			return func(a *model.Auction) (bool, error) {
				raw, ok := a.AttributeLookup()[key]
				if !ok {
					return false, fmt.Errorf("%w: %s", ErrUnknownAttribute, key)
				}
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return false, nil
				}
				return n >= lo && n <= hi, nil
			}, nil
		}
	}
	return func(a *model.Auction) (bool, error) {
		raw, ok := a.AttributeLookup()[key]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownAttribute, key)
		}
		return strings.EqualFold(raw, value), nil
	}, nil
}

func parsePrice(value string) (int64, error) {
	// tolerate "1.5m" style shorthand users paste from chat
	mult := int64(1)
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case strings.HasSuffix(v, "k"):
		mult, v = 1_000, strings.TrimSuffix(v, "k")
	case strings.HasSuffix(v, "m"):
		mult, v = 1_000_000, strings.TrimSuffix(v, "m")
	case strings.HasSuffix(v, "b"):
		mult, v = 1_000_000_000, strings.TrimSuffix(v, "b")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return int64(f * float64(mult)), nil
}
