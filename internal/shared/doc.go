// Package shared holds code used across packages that belongs to no single
// layer. Today that is only the testutil subpackage: license fixtures pinned
// to a fixed clock and a buffered slog handler for asserting on log output.
//
// Nothing in this tree may import production packages other than the
// license contracts, so any package can use it from its tests.
package shared
