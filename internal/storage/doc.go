// Package storage provides the entitlement stores behind the license
// controller: an in-memory store for tests and single-process deployments,
// and a gorm store for sqlite, postgres and mysql.
//
// Both implementations make InsertSlotIfUnderLimit atomic per license. The
// gorm store locks the license row inside a transaction (sqlite serializes
// writers instead) and relies on the unique (license_id, site_url) index to
// detect concurrent creation of the same slot.
package storage
