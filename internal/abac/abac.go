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

// Package abac evaluates the fixed attribute predicates of the decision
// pipeline: resource ownership, department membership, and clearance against
// sensitivity. A predicate whose inputs are absent is skipped, not failed;
// only present-and-violated predicates deny.
package abac

import (
	"fmt"

	"github.com/authzengine/authzengine/internal/attrs"
)

// Attribute names consulted by the evaluator.
const (
	AttrOwnerID            = "owner_id"
	AttrDepartment         = "department"
	AttrRequiredDepartment = "required_department"
	AttrSensitivity        = "sensitivity"
	AttrClearanceLevel     = "clearance_level"
)

// Result reports the outcome of the attribute checks.
type Result struct {
	Allowed          bool
	FailedConditions []string
}

// Evaluate runs the three fixed predicates against the principal and
// resource attribute maps.
func Evaluate(principalID string, principal, resource attrs.Map) *Result {
	var failed []string

	if owner, ok := resource.String(AttrOwnerID); ok && owner != principalID {
		failed = append(failed, "Resource owner mismatch")
	}

	if required, ok := resource.String(AttrRequiredDepartment); ok {
		if department, ok := principal.String(AttrDepartment); ok && department != required {
			failed = append(failed, fmt.Sprintf("Department mismatch: resource requires %s", required))
		}
	}

	if sensitivity, ok := resource.Number(AttrSensitivity); ok {
		if clearance, ok := principal.Number(AttrClearanceLevel); ok && clearance < sensitivity {
			failed = append(failed, fmt.Sprintf("Insufficient clearance: level %v required, principal has %v",
				trimFloat(sensitivity), trimFloat(clearance)))
		}
	}

	return &Result{
		Allowed:          len(failed) == 0,
		FailedConditions: failed,
	}
}

// trimFloat renders whole-valued numbers without a decimal part, so
// clearance levels read as integers in failure messages.
func trimFloat(f float64) any {
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}
