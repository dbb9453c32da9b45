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

package rbac

// System-defined entity IDs seeded by the initial schema migration.
// These UUIDs are written during database initialization and must remain
// stable. DO NOT modify these values without a corresponding data migration.
const (
	// SystemTenantID is the pre-seeded tenant used for platform bootstrap.
	// The first service account is provisioned here and should not be
	// deleted.
	SystemTenantID = "10000000-0000-0000-0000-000000000000"

	// RoleIDSystemAdmin grants administrative privileges in the system
	// tenant. Marked is_system; it cannot be reparented or deleted.
	RoleIDSystemAdmin = "20000000-0000-0000-0000-000000000001"
)

// System-defined permission IDs seeded alongside the admin role.
const (
	// PermissionIDTenantManage allows managing tenants (system tenant).
	PermissionIDTenantManage = "30000000-0000-0000-0000-000000000001"

	// PermissionIDAuditRead allows reading and verifying audit chains.
	PermissionIDAuditRead = "30000000-0000-0000-0000-000000000002"
)
