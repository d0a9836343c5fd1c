// Package license implements server-side license entitlement and activation
// for licensekit.
//
// # Components
//
//	- Evaluate: derives the effective status of a stored license record
//	- NormalizeSite: canonical site identity used for activation slots
//	- Controller: activation, deactivation and status checks over a Store
//	- Guard: blocks clients that probe for license keys
//
// # Activation Slots
//
// A license admits at most MaxActivations active slots, one per normalized
// site. Activating a site that already holds an active slot only refreshes
// it. A deactivated slot is restored without re-checking capacity, so a
// license whose limit was lowered after the slot was created can still bring
// that site back. New slots are created through Store.InsertSlotIfUnderLimit,
// which counts and inserts atomically per license.
//
// # Errors
//
// Terminal outcomes (not_found, disabled, expired, max_activations_reached,
// invalid input) are returned as *StatusError wrapping one of the package
// sentinels. Any other error is a storage failure.
//
// # Logging
//
// License keys are never logged in full; see MaskKey.
package license
