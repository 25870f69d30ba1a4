package resultstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnrecognizedLocation reports a location string matching none of the
// accepted encodings.
var ErrUnrecognizedLocation = errors.New("unrecognized storage location format")

// Location identifies a stored results artifact. Equality is structural;
// two Locations naming the same bucket and key are the same artifact.
type Location struct {
	Bucket string
	Key    string
}

// String renders the canonical encoding.
func (l Location) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

// Accepted historical encodings. Earlier releases stored virtual-hosted and
// path-style HTTPS URLs, some carrying presign query strings; all normalize
// to the canonical s3://bucket/key form with query parameters stripped.
var (
	virtualHostedPattern = regexp.MustCompile(`(?i)^https?://([^.]+)\.s3(?:[.-][a-z0-9-]+)*\.amazonaws\.com(?:\.cn)?/(.+?)(?:\?.*)?$`)
	pathStylePattern     = regexp.MustCompile(`(?i)^https?://s3(?:[.-][a-z0-9-]+)*\.amazonaws\.com(?:\.cn)?/([^/]+)/(.+?)(?:\?.*)?$`)
)

// ParseLocation normalizes any accepted encoding to a Location.
//
// Accepted:
//   - s3://bucket/key
//   - https://bucket.s3.amazonaws.com/key (optionally with region,
//     dualstack or accelerate labels, or a .cn suffix)
//   - https://s3.amazonaws.com/bucket/key (same label variants)
//
// Embedded query strings, such as presign signatures, are discarded.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty location", ErrUnrecognizedLocation)
	}

	if rest, ok := strings.CutPrefix(raw, "s3://"); ok {
		if idx := strings.Index(rest, "?"); idx >= 0 {
			rest = rest[:idx]
		}
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q", ErrUnrecognizedLocation, raw)
		}
		return Location{Bucket: bucket, Key: key}, nil
	}

	if m := virtualHostedPattern.FindStringSubmatch(raw); m != nil {
		return Location{Bucket: m[1], Key: m[2]}, nil
	}
	if m := pathStylePattern.FindStringSubmatch(raw); m != nil {
		return Location{Bucket: m[1], Key: m[2]}, nil
	}

	return Location{}, fmt.Errorf("%w: %q", ErrUnrecognizedLocation, raw)
}
