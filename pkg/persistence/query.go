package persistence

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"time"
)

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate rejects field names that are not plain snake_case identifiers.
func (q Query) Validate() error {
	if q.SortBy != "" && !fieldNamePattern.MatchString(q.SortBy) {
		return fmt.Errorf("%w: sort field %q", ErrInvalidQuery, q.SortBy)
	}

	for field := range q.Where {
		if !fieldNamePattern.MatchString(field) {
			return fmt.Errorf("%w: filter field %q", ErrInvalidQuery, field)
		}
	}

	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}

	return nil
}

// ValidateField rejects a field name that is not a plain snake_case identifier.
func ValidateField(field string) error {
	if !fieldNamePattern.MatchString(field) {
		return fmt.Errorf("%w: field %q", ErrInvalidQuery, field)
	}

	return nil
}

// NormalizedWhere returns the filter values as they would decode from JSON.
func (q Query) NormalizedWhere() (map[string]any, error) {
	if len(q.Where) == 0 {
		return nil, nil
	}

	return ToFields(q.Where)
}

// Matches reports whether every filter value equals the record's field.
func Matches(fields map[string]any, where map[string]any) bool {
	for key, want := range where {
		if !reflect.DeepEqual(fields[key], want) {
			return false
		}
	}

	return true
}

// CompareFields orders two decoded JSON values, treating RFC 3339 strings as times.
func CompareFields(a, b any) int {
	switch av := a.(type) {
	case float64:
		bv, _ := b.(float64)

		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}

		return 0
	case string:
		bv, _ := b.(string)

		at, errA := time.Parse(time.RFC3339Nano, av)
		bt, errB := time.Parse(time.RFC3339Nano, bv)

		if errA == nil && errB == nil {
			return at.Compare(bt)
		}

		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}

		return 0
	case nil:
		if b == nil {
			return 0
		}

		return -1
	default:
		left, _ := json.Marshal(a)
		right, _ := json.Marshal(b)

		switch {
		case string(left) < string(right):
			return -1
		case string(left) > string(right):
			return 1
		}

		return 0
	}
}
