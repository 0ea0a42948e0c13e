package store

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

// Cursor marks the last record of a page. Pages run newest first, so the
// next page holds records with a smaller sequence.
type Cursor struct {
	Seq uint64
}

func EncodeCursor(c Cursor) string {
	s := "seq|" + strconv.FormatUint(c.Seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func DecodeCursor(v string) (*Cursor, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, err
	}
	raw, ok := strings.CutPrefix(string(b), "seq|")
	if !ok {
		return nil, errors.New("invalid cursor")
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &Cursor{Seq: seq}, nil
}
