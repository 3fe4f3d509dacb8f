// Package models contains shared data models used across the VerseCheck codebase.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentRef identifies a piece of song content to be analyzed. Lyrics are
// supplied by the content source; this layer never fetches them itself.
type ContentRef struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Lyrics string `json:"lyrics"`
}

// Fingerprint returns a stable hash of the normalized title, artist and lyrics.
// It is the primary cache and identity key for analysis content.
func (c ContentRef) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(normalize(c.Title)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(c.Artist)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(c.Lyrics)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases and collapses whitespace so trivial formatting
// differences do not produce distinct fingerprints.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
