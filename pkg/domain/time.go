/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package domain

import (
	"fmt"
	"strings"
	"time"
)

// NowUTC returns the current instant normalized to UTC, at full
// precision; FormatRFC3339 keeps nanoseconds, so callers that
// round-trip through FormatRFC3339/ParseRFC3339 see a stable value.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// FormatRFC3339 renders t as RFC3339 UTC with a "Z" suffix.
func FormatRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseRFC3339 parses an RFC3339 UTC timestamp, rejecting non-UTC offsets
// so the "UTC Z" constraint in spec §3 is enforced at the boundary.
func ParseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse RFC3339 timestamp %q: %w", s, err)
		}
	}
	if _, offset := t.Zone(); offset != 0 {
		return time.Time{}, fmt.Errorf("timestamp %q is not UTC", s)
	}
	return t.UTC(), nil
}

// EnsureNonEmpty validates that a trimmed string field is non-empty,
// mirroring the upstream original's ensure_non_empty helper.
func EnsureNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s MUST be non-empty", fieldName)
	}
	return nil
}
