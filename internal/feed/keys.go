package feed

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	sortKeySep    = "#"
	sortKeyDigits = 20
	cursorVersion = "v1:"
	maxIDLength   = 256
)

// EncodeSortKey builds the range key of a feed item. The zero-padded
// millisecond prefix keeps lexical order equal to time order, and the post
// id suffix makes the key unique and deterministic per (recipient, post).
func EncodeSortKey(createdAt time.Time, postID string) string {
	return fmt.Sprintf("%0*d%s%s", sortKeyDigits, createdAt.UnixMilli(), sortKeySep, postID)
}

// DecodeSortKey splits a sort key back into its creation time and post id.
func DecodeSortKey(sk string) (time.Time, string, error) {
	millis, postID, ok := strings.Cut(sk, sortKeySep)
	if !ok || len(millis) != sortKeyDigits || postID == "" {
		return time.Time{}, "", fmt.Errorf("malformed sort key %q", sk)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, "", fmt.Errorf("malformed sort key %q", sk)
	}
	return time.UnixMilli(ms).UTC(), postID, nil
}

// Cursor is an opaque pagination token. Callers must not interpret it.
type Cursor string

// NewCursor encodes the sort key of the last item returned on a page.
func NewCursor(sortKey string) Cursor {
	return Cursor(base64.RawURLEncoding.EncodeToString([]byte(cursorVersion + sortKey)))
}

// ParseCursor validates a raw token received from a client.
func ParseCursor(raw string) (Cursor, error) {
	c := Cursor(raw)
	if _, err := c.sortKey(); err != nil {
		return "", err
	}
	return c, nil
}

// String returns the wire form of the cursor.
func (c Cursor) String() string { return string(c) }

func (c Cursor) sortKey() (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrInvalidCursor)
	}
	sk, ok := strings.CutPrefix(string(b), cursorVersion)
	if !ok {
		return "", fmt.Errorf("%w: unknown version", ErrInvalidCursor)
	}
	if _, _, err := DecodeSortKey(sk); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return sk, nil
}
