// Package synctoken implements the opaque cursor exchanged with sync
// clients. Two flavors share one wire format: a sync token marks "I
// have everything strictly before this instant", a cursor token marks
// "continue delivering at or after this instant". The caller pairs the
// flavor with the matching comparator; the codec only deals in
// microsecond instants.
//
// Wire format: base64(UTF-8 "<version>:<payload>"). Version 1 payloads
// are legacy date strings, version 2 payloads are decimal seconds since
// epoch. Both decode; only version 2 is ever produced.
package synctoken

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/notesync/syncing-api/internal/timer"
)

const (
	// VersionLegacy tokens carry a date-string payload.
	VersionLegacy = "1"
	// Version is the only version emitted: decimal epoch seconds.
	Version = "2"
)

// ErrBadToken is returned for tokens whose version prefix is absent or
// unrecognized, or whose payload does not parse. Clients receiving the
// corresponding wire error restart from no token.
var ErrBadToken = errors.New("synctoken: malformed token")

// EncodeSyncToken encodes the end-of-response token. The instant is
// shifted by +1µs past the highest delivered timestamp so that the
// boundary item is not re-fetched by the next strict-greater query.
func EncodeSyncToken(maxUpdatedAtMicros int64) string {
	return encode(maxUpdatedAtMicros + 1)
}

// EncodeCursorToken encodes a mid-pagination token from the last
// returned item's timestamp, unshifted. The next query compares with >=
// so writes landing exactly on the boundary are re-read, never lost.
func EncodeCursorToken(lastUpdatedAtMicros int64) string {
	return encode(lastUpdatedAtMicros)
}

func encode(micros int64) string {
	payload := fmt.Sprintf("%s:%d.%06d", Version, micros/1_000_000, micros%1_000_000)
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// Decode parses either token flavor back to Unix microseconds.
func Decode(token string) (int64, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return 0, ErrBadToken
	}

	version, payload, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, ErrBadToken
	}

	switch version {
	case VersionLegacy:
		micros, ok := timer.ParseDateToMicros(payload)
		if !ok {
			return 0, ErrBadToken
		}
		return micros, nil
	case Version:
		return parseSecondsToMicros(payload)
	default:
		return 0, ErrBadToken
	}
}

// parseSecondsToMicros converts a decimal seconds string to integer
// microseconds without going through float64, which drops precision at
// current epoch magnitudes.
func parseSecondsToMicros(payload string) (int64, error) {
	sec, frac, _ := strings.Cut(payload, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrBadToken
	}

	micros := n * 1_000_000
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		for len(frac) < 6 {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrBadToken
		}
		micros += f
	}
	return micros, nil
}
