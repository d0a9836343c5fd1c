package license

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// MaskKey hides all but the first and last four characters of a license key
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// KeyFingerprint returns a short, stable hash of a license key for audit correlation
func KeyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// keyAttr is the slog attribute used whenever a license key is logged
func keyAttr(key string) slog.Attr {
	return slog.String("license_key", MaskKey(key))
}

func componentLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", "license"))
}
