package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonIDChars      = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	repeatedUnders  = regexp.MustCompile(`_+`)
	transcriptionID = regexp.MustCompile(`^[A-Z0-9_-]+_\d{8}_[A-Z0-9_-]+$`)
)

// cleanIDPart strips accents and special characters, keeping alphanumerics,
// underscore and hyphen, uppercased.
func cleanIDPart(text string) string {
	if text == "" {
		return ""
	}

	// Decompose and drop combining marks (accents)
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, text); err == nil {
		text = stripped
	}

	text = nonIDChars.ReplaceAllString(text, "_")
	text = repeatedUnders.ReplaceAllString(text, "_")
	text = strings.Trim(text, "_")

	return strings.ToUpper(text)
}

// GenerateTranscriptionID builds a deterministic transcription ID in the
// form WORKSTREAM_YYYYMMDD_MEETINGID, with fallbacks for missing parts.
func GenerateTranscriptionID(workstream string, meetingDate *time.Time, meetingID string) string {
	workstreamPart := "DEFAULT"
	if workstream != "" {
		workstreamPart = cleanIDPart(workstream)
	}

	datePart := time.Now().UTC().Format("20060102")
	if meetingDate != nil {
		datePart = meetingDate.Format("20060102")
	}

	meetingPart := fmt.Sprintf("MEETING_%s", time.Now().UTC().Format("150405"))
	if meetingID != "" {
		meetingPart = cleanIDPart(meetingID)
	}

	return fmt.Sprintf("%s_%s_%s", workstreamPart, datePart, meetingPart)
}

// ValidateTranscriptionID reports whether the ID follows the
// WORKSTREAM_YYYYMMDD_MEETINGID format.
func ValidateTranscriptionID(id string) bool {
	return transcriptionID.MatchString(id)
}
