package tasks

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Generated ids are "0x" followed by 32 hex digits of an MD5 over the
// document bytes: 34 characters total.
const (
	idPrefix = "0x"
	idLength = 34
)

// GetID derives the task id for a document. If doc already looks like a
// generated id (34 characters, "0x" prefix, hex digits) it is returned
// unchanged, so callers may pass either a document or an id. Otherwise the
// id is the MD5 content hash of the UTF-8 bytes of doc.
//
// The function is pure: identical documents always map to the same id,
// which is what makes submission dedup-by-content work.
func GetID(doc string) string {
	if IsID(doc) {
		return doc
	}
	sum := md5.Sum([]byte(doc))
	return idPrefix + hex.EncodeToString(sum[:])
}

// IsID reports whether s has the shape of a generated task id.
func IsID(s string) bool {
	if len(s) != idLength || !strings.HasPrefix(s, idPrefix) {
		return false
	}
	_, err := hex.DecodeString(s[len(idPrefix):])
	return err == nil
}
