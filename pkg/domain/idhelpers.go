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
	"encoding/json"
	"fmt"
)

type stringer interface {
	String() string
}

func marshalStringer(s stringer) ([]byte, error) {
	return json.Marshal(s.String())
}

func unmarshalToParse[T any](data []byte, parse func(string) (T, error)) (T, error) {
	var s string
	var zero T
	if err := json.Unmarshal(data, &s); err != nil {
		return zero, err
	}
	return parse(s)
}

func scanToParse[T any](src interface{}, parse func(string) (T, error)) (T, error) {
	var zero T
	switch v := src.(type) {
	case string:
		return parse(v)
	case []byte:
		return parse(string(v))
	case nil:
		return zero, nil
	default:
		return zero, fmt.Errorf("unsupported scan source type %T", src)
	}
}
