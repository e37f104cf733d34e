// Package hashing provides content-stable paragraph and line hashes used for
// archive dedup and similarity checks.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	DefaultMinParagraphWords = 5
	DefaultMinLineChars      = 10
	DefaultMaxLineTextLength = 100
)

var (
	zeroWidthRe  = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{2060}\x{FEFF}]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	paragraphRe  = regexp.MustCompile(`\n{2,}`)
)

// Options controls paragraph/line extraction.
type Options struct {
	MinParagraphWords int
	MinLineChars      int
	MaxLineTextLength int
}

func (o *Options) setDefaults() {
	if o.MinParagraphWords <= 0 {
		o.MinParagraphWords = DefaultMinParagraphWords
	}
	if o.MinLineChars <= 0 {
		o.MinLineChars = DefaultMinLineChars
	}
	if o.MaxLineTextLength <= 0 {
		o.MaxLineTextLength = DefaultMaxLineTextLength
	}
}

// ParagraphHash identifies one paragraph of normalized content.
type ParagraphHash struct {
	Hash      string `json:"hash"`
	Position  int    `json:"position"`
	Length    int    `json:"length"`
	WordCount int    `json:"word_count"`
}

// LineHash identifies one line of normalized content. Text is truncated to
// MaxLineTextLength for display.
type LineHash struct {
	Hash     string `json:"hash"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// ContentHashes is the result of HashContent.
type ContentHashes struct {
	ParagraphHashes []ParagraphHash `json:"paragraph_hashes"`
	LineHashes      []LineHash      `json:"line_hashes"`
	Stats           ContentStats    `json:"stats"`
}

// ContentStats summarizes what HashContent saw before filtering.
type ContentStats struct {
	TotalParagraphs int `json:"total_paragraphs"`
	TotalLines      int `json:"total_lines"`
	TotalWords      int `json:"total_words"`
}

// Normalize folds text into a hash-stable form: NFC, zero-width code points
// stripped, line endings folded to \n, trimmed, lowercased, whitespace runs
// collapsed to single spaces.
func Normalize(text string) string {
	s := norm.NFC.String(text)
	s = zeroWidthRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return s
}

// HashText returns the hex SHA-256 of the normalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// normalizeKeepLines is Normalize minus whitespace collapsing across newlines,
// so paragraph and line boundaries survive.
func normalizeKeepLines(text string) string {
	s := norm.NFC.String(text)
	s = zeroWidthRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// HashContent computes paragraph and line hashes of the text. Paragraphs
// shorter than MinParagraphWords words and lines shorter than MinLineChars
// characters are omitted. Positions are 0-based over the unfiltered splits.
func HashContent(text string, opts Options) ContentHashes {
	opts.setDefaults()

	kept := normalizeKeepLines(text)

	var result ContentHashes

	paragraphs := paragraphRe.Split(kept, -1)
	result.Stats.TotalParagraphs = len(paragraphs)
	for i, p := range paragraphs {
		words := strings.Fields(p)
		result.Stats.TotalWords += len(words)
		if len(words) < opts.MinParagraphWords {
			continue
		}
		result.ParagraphHashes = append(result.ParagraphHashes, ParagraphHash{
			Hash:      HashText(p),
			Position:  i,
			Length:    len(p),
			WordCount: len(words),
		})
	}

	lines := strings.Split(kept, "\n")
	result.Stats.TotalLines = len(lines)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) < opts.MinLineChars {
			continue
		}
		display := trimmed
		if len(display) > opts.MaxLineTextLength {
			display = display[:opts.MaxLineTextLength]
		}
		result.LineHashes = append(result.LineHashes, LineHash{
			Hash:     HashText(trimmed),
			Position: i,
			Text:     display,
		})
	}

	return result
}

// Similarity computes the Jaccard similarity of two hash sets. Both empty
// yields 1; exactly one empty yields 0.
func Similarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, h := range a {
		setA[h] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, h := range b {
		setB[h] = struct{}{}
	}

	intersection := 0
	for h := range setA {
		if _, ok := setB[h]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
