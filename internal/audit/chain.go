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

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// SeedHash is the chain head of a tenant with no audit entries yet.
const SeedHash = "initial"

// Canonical renders the hashed request subset as canonical JSON: keys
// sorted at every object level, no insignificant whitespace, UTF-8.
func Canonical(tenantID, principalID, action, resourceType, resourceID string) string {
	b, _ := json.Marshal(map[string]any{
		"tenant_id":    tenantID,
		"principal_id": principalID,
		"action":       action,
		"resource": map[string]any{
			"type": resourceType,
			"id":   resourceID,
		},
	})
	return string(b)
}

// EntryCanonical is Canonical over an entry's hashed fields.
func EntryCanonical(e *Entry) string {
	return Canonical(e.TenantID, e.PrincipalID, e.Action, e.ResourceType, e.ResourceID)
}

// RequestHash is the hex-encoded SHA-256 of the canonical request.
func RequestHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// DerivedHash links an entry to its predecessor. The chain head after an
// append is the derived hash of the appended entry.
func DerivedHash(previousHash, canonical string) string {
	sum := sha256.Sum256([]byte("audit-log:" + previousHash + ":" + canonical))
	return hex.EncodeToString(sum[:])
}

// VerifyReport is the result of re-deriving a tenant's chain from seed.
type VerifyReport struct {
	TenantID string    `json:"tenant_id"`
	Entries  int       `json:"entries"`
	Valid    bool      `json:"valid"`
	Head     string    `json:"head"`
	Mismatch *Mismatch `json:"mismatch,omitempty"`
}

// Mismatch pinpoints the first entry whose hashes do not re-derive.
type Mismatch struct {
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
	Field   string `json:"field"`
	Want    string `json:"want"`
	Got     string `json:"got"`
}

// VerifyChain re-derives every hash from the seed and reports the first
// mismatch. Entries must be given in chain order. An empty chain is valid
// with the seed as its head.
func VerifyChain(tenantID string, entries []*Entry) *VerifyReport {
	report := &VerifyReport{
		TenantID: tenantID,
		Entries:  len(entries),
		Valid:    true,
		Head:     SeedHash,
	}
	for i, e := range entries {
		canonical := EntryCanonical(e)
		if e.PreviousHash != report.Head {
			report.Valid = false
			report.Mismatch = &Mismatch{
				Index:   i,
				EntryID: e.ID,
				Field:   "previous_hash",
				Want:    report.Head,
				Got:     e.PreviousHash,
			}
			return report
		}
		if want := RequestHash(canonical); e.RequestHash != want {
			report.Valid = false
			report.Mismatch = &Mismatch{
				Index:   i,
				EntryID: e.ID,
				Field:   "request_hash",
				Want:    want,
				Got:     e.RequestHash,
			}
			return report
		}
		report.Head = DerivedHash(report.Head, canonical)
	}
	return report
}
