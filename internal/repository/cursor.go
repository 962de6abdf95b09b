package repository

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/models"
)

// pageCursor is the decoded form of the opaque cursor handed to clients.
// Chronological listings use a keyset on (created_at, id); ranked listings
// (top, hot) page by offset because their order key changes as likes arrive.
type pageCursor struct {
	CreatedAt time.Time
	ID        string
	Offset    int
}

const offsetMarker = "o"

func encodeKeyset(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func encodeOffset(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(offsetMarker + "|" + strconv.Itoa(offset)))
}

func decodeCursor(s string) (*pageCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, models.NewValidationError("invalid cursor")
	}
	head, tail, ok := strings.Cut(string(raw), "|")
	if !ok || tail == "" {
		return nil, models.NewValidationError("invalid cursor")
	}
	if head == offsetMarker {
		n, err := strconv.Atoi(tail)
		if err != nil || n < 0 {
			return nil, models.NewValidationError("invalid cursor")
		}
		return &pageCursor{Offset: n}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, head)
	if err != nil {
		return nil, models.NewValidationError("invalid cursor")
	}
	return &pageCursor{CreatedAt: ts.UTC(), ID: tail}, nil
}
