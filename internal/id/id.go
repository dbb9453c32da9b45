// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package id generates and validates the identifiers used across the
// service. All new identifiers are UUIDv7 so that index locality follows
// insertion order.
package id

import "github.com/google/uuid"

// NewUUIDv7 returns a new time-ordered UUID string.
func NewUUIDv7() string {
	v7, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source is broken; fall back to v4.
		return uuid.NewString()
	}
	return v7.String()
}

// Parse validates that s is a well-formed UUID and returns it.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
