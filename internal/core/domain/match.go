package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MatchIDPrefix is the prefix of every match identifier.
const MatchIDPrefix = "rmm_"

// MatchID names one session run for journals and saves.
type MatchID string

// GenerateMatchID generates a new match ID using ULID.
// Format: rmm_{ulid_lowercase}, 30 characters total.
func GenerateMatchID() (MatchID, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInvalidConfig.WithCause(err)
	}
	return MatchID(MatchIDPrefix + strings.ToLower(id.String())), nil
}

// Valid reports whether the ID has the expected shape.
func (m MatchID) Valid() bool {
	s := string(m)
	if !strings.HasPrefix(s, MatchIDPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(s, MatchIDPrefix)))
	return err == nil
}

// Time returns the creation time embedded in the ID.
func (m MatchID) Time() (time.Time, bool) {
	id, err := ulid.ParseStrict(strings.ToUpper(strings.TrimPrefix(string(m), MatchIDPrefix)))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
