// Package app wires the license authority together and manages its
// lifecycle.
//
// # Initialization Flow
//
//	1. Initialize OpenTelemetry and the license metrics
//	2. Open the entitlement store and apply the seed file
//	3. Load the release catalog and verify its packages
//	4. Build the key guard, controller, resolver and services
//	5. Set up middleware and routes
//	6. Create the HTTP server
//
// Configuration loading and logger initialization are left to the caller
// so that cmd/license-server controls startup failures.
//
// # Signals
//
// Run handles SIGINT and SIGTERM by draining in-flight requests and closing
// the store. SIGHUP reloads the release catalog without a restart.
package app
