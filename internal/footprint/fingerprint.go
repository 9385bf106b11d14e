package footprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// fingerprintLength is the hex length of a derived fingerprint.
const fingerprintLength = 40

var (
	uuidSegment = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexSegment  = regexp.MustCompile(`^[0-9a-fA-F]{16,}$`)
	numSegment  = regexp.MustCompile(`^[0-9]+$`)
)

// Fingerprint derives the stable hash identifying the footprint's error
// class. The hash covers only the HTTP method, the template-normalized path,
// and the exception name (falling back to the status code when no exception
// was captured). Volatile fields are deliberately excluded so recurrences
// collapse onto one incidence.
func Fingerprint(fp *Footprint) string {
	discriminator := fp.ExceptionName
	if discriminator == "" {
		discriminator = fmt.Sprintf("status:%d", fp.StatusCode)
	}

	basis := strings.Join([]string{
		strings.ToUpper(fp.RequestMethod),
		NormalizePath(fp.RequestPath),
		discriminator,
	}, "|")

	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// NormalizePath collapses identifier-like path segments so that
// /users/42 and /users/97 fingerprint identically.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}

	// Query strings carry request-specific noise
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if numSegment.MatchString(segment) || uuidSegment.MatchString(segment) || hexSegment.MatchString(segment) {
			segments[i] = ":id"
		}
	}

	normalized := strings.Join(segments, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if trimmed := strings.TrimSuffix(normalized, "/"); trimmed != "" {
		return trimmed
	}
	return "/"
}
