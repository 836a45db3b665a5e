// Package ident classifies the identifiers accepted on resource paths.
package ident

import (
	"strconv"
	"strings"
	"time"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/google/uuid"
)

// TemporaryPrefix marks transcription ids that were never persisted.
const TemporaryPrefix = "tr-"

// Kind selects the lookup strategy for a Ref.
type Kind int

// Identifier kinds: a numeric primary key, a stored blob filename, or the
// synthetic id of an unsaved transcript.
const (
	KindID Kind = iota + 1
	KindFilename
	KindTemporary
)

func (k Kind) String() string {
	switch k {
	case KindID:
		return "id"
	case KindFilename:
		return "filename"
	case KindTemporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// Ref is a classified identifier. Exactly one of ID and Value is meaningful.
type Ref struct {
	Kind  Kind
	ID    uint64
	Value string
}

// Classify decides by shape alone which lookup a raw identifier needs.
func Classify(raw string) (Ref, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Ref{}, apperr.Validation("identifier is required")
	}
	if IsTemporary(value) {
		return Ref{Kind: KindTemporary, Value: value}, nil
	}
	if isDigits(value) {
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil || id == 0 {
			return Ref{}, apperr.Validation("identifier is out of range")
		}
		return Ref{Kind: KindID, ID: id}, nil
	}
	if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return Ref{}, apperr.Validation("invalid filename")
	}
	return Ref{Kind: KindFilename, Value: value}, nil
}

// ParseID accepts only numeric identifiers.
func ParseID(raw string) (uint64, error) {
	ref, err := Classify(raw)
	if err != nil {
		return 0, err
	}
	if ref.Kind != KindID {
		return 0, apperr.Validation("invalid id")
	}
	return ref.ID, nil
}

// FormatID renders a numeric primary key as a path identifier.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// NewTemporaryID returns a synthetic transcription id such as tr-m1x2y3z4-5f2c9a.
func NewTemporaryID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return TemporaryPrefix + strconv.FormatInt(now.UnixMilli(), 36) + "-" + suffix
}

// IsTemporary reports whether id was produced by NewTemporaryID.
func IsTemporary(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), TemporaryPrefix)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
