package ingest

import (
	"strings"

	"velo/internal/contact"
)

var (
	phonePatterns   = []string{"phone", "nomor", "telepon", "hp", "whatsapp", "wa", "number", "mobile"}
	namePatterns    = []string{"name", "nama", "customer", "client", "contact"}
	messagePatterns = []string{"message", "pesan", "text", "msg", "content"}
)

// DetectMapping picks the first header containing a known pattern for each
// field, case-insensitively. A header is assigned to at most one field.
// Confidence is the number of fields found (0..3).
func DetectMapping(headers []string) (m contact.Mapping, confidence int) {
	used := map[string]bool{}
	pick := func(patterns []string) string {
		for _, h := range headers {
			if used[h] {
				continue
			}
			lh := strings.ToLower(h)
			for _, p := range patterns {
				if strings.Contains(lh, p) {
					used[h] = true
					confidence++
					return h
				}
			}
		}
		return ""
	}
	m.RecipientField = pick(phonePatterns)
	m.NameField = pick(namePatterns)
	m.MessageField = pick(messagePatterns)
	return m, confidence
}

// HasColumn reports whether name is one of headers.
func HasColumn(headers []string, name string) bool {
	for _, h := range headers {
		if h == name {
			return true
		}
	}
	return false
}
