package updater

import "errors"

var (
	// ErrUnknownRelease is returned when a download names a version other
	// than the published latest
	ErrUnknownRelease = errors.New("unknown release")
	// ErrUnknownProduct is returned when the catalog has no entry for a product
	ErrUnknownProduct = errors.New("unknown product")
	ErrInvalidVersion = errors.New("invalid version")
	ErrPackageMissing = errors.New("package file missing")
)

// Wire messages
const (
	MsgUnknownRelease = "Unknown release"
	MsgUnknownProduct = "Unknown product"
	MsgInvalidVersion = "Invalid version"
)
