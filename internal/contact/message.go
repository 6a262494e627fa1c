package contact

import "strings"

// ResolveMessage picks the message body for one contact.
//
// Priority: a message embedded in the recipient deep link, then the row's
// message column, then the campaign default, then FallbackMessage.
// fromLink reports whether the embedded message won.
func ResolveMessage(embedded, column, campaignDefault string) (body string, fromLink bool) {
	if s := strings.TrimSpace(embedded); s != "" {
		return s, true
	}
	if s := cleanMessage(column); s != "" {
		return s, false
	}
	if s := strings.TrimSpace(campaignDefault); s != "" {
		return s, false
	}
	return FallbackMessage, false
}

// ResolveName returns the whitespace-collapsed name, or DefaultDisplayName.
func ResolveName(raw string) string {
	if s := collapseSpaces(raw); s != "" {
		return s
	}
	return DefaultDisplayName
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanMessage trims the body and collapses runs of blanks inside each line
// while keeping the line structure intact.
func cleanMessage(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = collapseSpaces(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
