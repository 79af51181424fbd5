package utils

import (
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestGenerateTranscriptionID(t *testing.T) {
	c := qt.New(t)

	date := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

	t.Run("all parts provided", func(t *testing.T) {
		id := GenerateTranscriptionID("Finance", &date, "weekly-review")
		c.Assert(id, qt.Equals, "FINANCE_20250314_WEEKLY-REVIEW")
	})

	t.Run("accents and special characters are stripped", func(t *testing.T) {
		id := GenerateTranscriptionID("Operações & Vendas", &date, "reunião #42")
		c.Assert(id, qt.Equals, "OPERACOES_VENDAS_20250314_REUNIAO_42")
	})

	t.Run("empty workstream falls back to DEFAULT", func(t *testing.T) {
		id := GenerateTranscriptionID("", &date, "kickoff")
		c.Assert(id, qt.Equals, "DEFAULT_20250314_KICKOFF")
	})

	t.Run("nil date uses today", func(t *testing.T) {
		id := GenerateTranscriptionID("ws", nil, "m1")
		c.Assert(strings.HasPrefix(id, "WS_"), qt.IsTrue)
		c.Assert(strings.HasSuffix(id, "_M1"), qt.IsTrue)
		c.Assert(ValidateTranscriptionID(id), qt.IsTrue)
	})

	t.Run("empty meeting ID gets a timestamp placeholder", func(t *testing.T) {
		id := GenerateTranscriptionID("ws", &date, "")
		c.Assert(strings.HasPrefix(id, "WS_20250314_MEETING_"), qt.IsTrue)
	})

	t.Run("generated IDs always validate", func(t *testing.T) {
		inputs := []struct{ workstream, meetingID string }{
			{"Finance", "review"},
			{"Operações", "reunião semanal"},
			{"a-b-c", "x_y_z"},
		}
		for _, in := range inputs {
			id := GenerateTranscriptionID(in.workstream, &date, in.meetingID)
			c.Assert(ValidateTranscriptionID(id), qt.IsTrue, qt.Commentf("id: %s", id))
		}
	})
}

func TestValidateTranscriptionID(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		id    string
		valid bool
	}{
		{"FINANCE_20250314_REVIEW", true},
		{"A-B_20250101_X-Y", true},
		{"finance_20250314_review", false},
		{"FINANCE_2025_REVIEW", false},
		{"FINANCE_20250314", false},
		{"", false},
	}

	for _, tc := range testCases {
		c.Assert(ValidateTranscriptionID(tc.id), qt.Equals, tc.valid, qt.Commentf("id: %q", tc.id))
	}
}
