package core

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/segmentio/ksuid"
)

// ID identifies an engine entity. Two populations share the type:
// author-assigned names (connector ids, operator-chosen integration and
// connection ids, action and sync names) and generated ids (flow sessions,
// and connections created without a caller-supplied id). Generated ids are
// KSUIDs, so they sort lexicographically by creation time.
type ID string

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// IsGenerated reports whether id came out of NewID rather than an author's
// hand. Author-assigned names ("slack", "int-1") do not parse as KSUIDs.
func (id ID) IsGenerated() bool {
	_, err := ksuid.Parse(string(id))
	return err == nil
}

// NewID generates a time-ordered, globally unique identifier for entities
// the engine creates itself.
func NewID() (ID, error) {
	generated, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("core: generate id: %w", err)
	}
	return ID(generated.String()), nil
}

// MustNewID panics if id generation fails; use only at process start for
// values that cannot reasonably fail (entropy exhaustion).
func MustNewID() ID {
	id, err := NewID()
	if err != nil {
		panic(err)
	}
	return id
}

const maxIDLength = 128

// ValidateID checks a caller-supplied identifier before it is trusted as a
// lookup or scheduling key. The scheduler builds job keys as
// "<connectionId>:<syncName>", so a colon inside either half would make the
// key ambiguous; whitespace and control characters are rejected because
// these ids travel through URLs and log lines unescaped. Generated ids
// (KSUIDs) pass unchanged.
func ValidateID(s string) (ID, error) {
	if s == "" {
		return "", Errorf(CodeInvalidArgument, "core: empty id")
	}
	if len(s) > maxIDLength {
		return "", Errorf(CodeInvalidArgument, "core: id longer than %d characters", maxIDLength)
	}
	if strings.ContainsRune(s, ':') {
		return "", Errorf(CodeInvalidArgument, "core: id %q must not contain ':'", s)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", Errorf(CodeInvalidArgument, "core: id %q must not contain whitespace or control characters", s)
		}
	}
	return ID(s), nil
}
