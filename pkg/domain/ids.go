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

// Package domain holds the stable value types shared by every other
// package in this module: opaque 128-bit sortable ids, canonical JSON
// hashing, RFC3339 UTC timestamp handling, and the envelope/record
// types that flow between the orchestrator, the trace store, the
// outcome store and the provider adapters.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// RunID identifies one workflow execution.
type RunID struct {
	id ulid.ULID
}

// NewRunID mints a fresh, monotonically-sortable run id.
func NewRunID() RunID {
	return RunID{id: ulid.Make()}
}

// ParseRunID parses a previously rendered run id string.
func ParseRunID(s string) (RunID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return RunID{}, fmt.Errorf("parse run id %q: %w", s, err)
	}
	return RunID{id: u}, nil
}

func (r RunID) String() string { return r.id.String() }

// IsZero reports whether the id was never assigned.
func (r RunID) IsZero() bool { return r.id == ulid.ULID{} }

func (r RunID) MarshalJSON() ([]byte, error) {
	return marshalStringer(r)
}

func (r *RunID) UnmarshalJSON(data []byte) error {
	parsed, err := unmarshalToParse(data, ParseRunID)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer so RunID can be bound directly by sqlx.
func (r RunID) Value() (driver.Value, error) { return r.String(), nil }

// Scan implements sql.Scanner so RunID can be read directly by sqlx.
func (r *RunID) Scan(src interface{}) error {
	parsed, err := scanToParse(src, ParseRunID)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// StepID identifies one attempted work unit within a run.
type StepID struct {
	id ulid.ULID
}

// NewStepID mints a fresh, monotonically-sortable step id.
func NewStepID() StepID {
	return StepID{id: ulid.Make()}
}

// ParseStepID parses a previously rendered step id string.
func ParseStepID(s string) (StepID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return StepID{}, fmt.Errorf("parse step id %q: %w", s, err)
	}
	return StepID{id: u}, nil
}

func (s StepID) String() string { return s.id.String() }

func (s StepID) IsZero() bool { return s.id == ulid.ULID{} }

func (s StepID) MarshalJSON() ([]byte, error) {
	return marshalStringer(s)
}

func (s *StepID) UnmarshalJSON(data []byte) error {
	parsed, err := unmarshalToParse(data, ParseStepID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s StepID) Value() (driver.Value, error) { return s.String(), nil }

func (s *StepID) Scan(src interface{}) error {
	parsed, err := scanToParse(src, ParseStepID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// EventID identifies one trace event, globally unique within a trace store.
type EventID struct {
	id ulid.ULID
}

// NewEventID mints a fresh, monotonically-sortable event id.
func NewEventID() EventID {
	return EventID{id: ulid.Make()}
}

func ParseEventID(s string) (EventID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return EventID{}, fmt.Errorf("parse event id %q: %w", s, err)
	}
	return EventID{id: u}, nil
}

func (e EventID) String() string { return e.id.String() }

func (e EventID) IsZero() bool { return e.id == ulid.ULID{} }

func (e EventID) MarshalJSON() ([]byte, error) {
	return marshalStringer(e)
}

func (e *EventID) UnmarshalJSON(data []byte) error {
	parsed, err := unmarshalToParse(data, ParseEventID)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e EventID) Value() (driver.Value, error) { return e.String(), nil }

func (e *EventID) Scan(src interface{}) error {
	parsed, err := scanToParse(src, ParseEventID)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ProviderCallID identifies one provider adapter invocation.
type ProviderCallID struct {
	id ulid.ULID
}

func NewProviderCallID() ProviderCallID {
	return ProviderCallID{id: ulid.Make()}
}

func (p ProviderCallID) String() string { return p.id.String() }

func (p ProviderCallID) MarshalJSON() ([]byte, error) {
	return marshalStringer(p)
}

// ParseProviderCallID parses a previously rendered provider call id string.
func ParseProviderCallID(s string) (ProviderCallID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return ProviderCallID{}, fmt.Errorf("parse provider call id %q: %w", s, err)
	}
	return ProviderCallID{id: u}, nil
}

func (p ProviderCallID) IsZero() bool { return p.id == ulid.ULID{} }

func (p *ProviderCallID) UnmarshalJSON(data []byte) error {
	parsed, err := unmarshalToParse(data, ParseProviderCallID)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value implements driver.Valuer so ProviderCallID can be bound directly by sqlx.
func (p ProviderCallID) Value() (driver.Value, error) { return p.String(), nil }

// Scan implements sql.Scanner so ProviderCallID can be read directly by sqlx.
func (p *ProviderCallID) Scan(src interface{}) error {
	parsed, err := scanToParse(src, ParseProviderCallID)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// OutcomeEventID identifies one row in a memory's outcome event stream.
type OutcomeEventID struct {
	id ulid.ULID
}

func NewOutcomeEventID() OutcomeEventID {
	return OutcomeEventID{id: ulid.Make()}
}

func (o OutcomeEventID) String() string { return o.id.String() }

// ParseOutcomeEventID parses a previously rendered outcome event id string.
func ParseOutcomeEventID(s string) (OutcomeEventID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return OutcomeEventID{}, fmt.Errorf("parse outcome event id %q: %w", s, err)
	}
	return OutcomeEventID{id: u}, nil
}

func (o OutcomeEventID) IsZero() bool { return o.id == ulid.ULID{} }

func (o OutcomeEventID) MarshalJSON() ([]byte, error) {
	return marshalStringer(o)
}

func (o *OutcomeEventID) UnmarshalJSON(data []byte) error {
	parsed, err := unmarshalToParse(data, ParseOutcomeEventID)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Value implements driver.Valuer so OutcomeEventID can be bound directly by sqlx.
func (o OutcomeEventID) Value() (driver.Value, error) { return o.String(), nil }

// Scan implements sql.Scanner so OutcomeEventID can be read directly by sqlx.
func (o *OutcomeEventID) Scan(src interface{}) error {
	parsed, err := scanToParse(src, ParseOutcomeEventID)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
