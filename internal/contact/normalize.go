package contact

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	shortLinkPattern  = regexp.MustCompile(`wa\.me/\+?(\d+)`)
	phoneParamPattern = regexp.MustCompile(`(?:^|[?&\s])phone=\+?(\d+)`)

	deepLinkHosts = []string{"wa.me/", "api.whatsapp.com", "web.whatsapp.com"}

	encodedLineBreaks = strings.NewReplacer(
		"%0D%0A", "\n", "%0d%0a", "\n",
		"%0A", "\n", "%0a", "\n",
		"%0D", "\n", "%0d", "\n",
		"\r\n", "\n", "\r", "\n",
	)
)

// Normalized is the result of normalizing one raw recipient value.
type Normalized struct {
	RecipientID string
	// Message is the body embedded in a deep link, already decoded. Empty
	// when the value was not a link or the link carried no message.
	Message  string
	FromLink bool
}

// Normalize parses a raw phone-like value, possibly a deep link with an
// embedded message, into a canonical digit-only recipient id.
//
// The id is stripped of non-digits and leading zeros, prefixed with
// countryCode unless it already starts with it, and must end up 10–15 digits
// long. Anything else yields ErrInvalidRecipient.
func Normalize(raw, countryCode string) (Normalized, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Normalized{}, fmt.Errorf("%w: empty value", ErrInvalidRecipient)
	}
	if countryCode = digitsOnly(countryCode); countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var out Normalized
	candidate := value
	if id, ok := linkRecipient(value); ok {
		candidate = id
		out.FromLink = true
	} else if isDeepLink(value) {
		out.FromLink = true
	}
	if out.FromLink {
		out.Message = linkMessage(value)
	}

	id := strings.TrimLeft(digitsOnly(candidate), "0")
	if id == "" {
		return Normalized{}, fmt.Errorf("%w: no digits in %q", ErrInvalidRecipient, value)
	}
	if !strings.HasPrefix(id, countryCode) {
		id = countryCode + id
	}
	if n := len(id); n < minRecipientDigits || n > maxRecipientDigits {
		return Normalized{}, fmt.Errorf("%w: %d digits in %q", ErrInvalidRecipient, n, value)
	}
	out.RecipientID = id
	return out, nil
}

func linkRecipient(value string) (string, bool) {
	if m := shortLinkPattern.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	if m := phoneParamPattern.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	return "", false
}

func isDeepLink(value string) bool {
	lower := strings.ToLower(value)
	for _, h := range deepLinkHosts {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// linkMessage extracts and decodes the "text" query parameter of a deep link.
func linkMessage(value string) string {
	q := value
	if i := strings.IndexByte(q, '?'); i >= 0 {
		q = q[i+1:]
	}
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}

	// ParseQuery keeps the well-formed pairs even when it reports an error.
	vals, _ := url.ParseQuery(q)
	text := vals.Get("text")
	if text == "" {
		text = rawParam(q, "text")
	}
	return strings.TrimSpace(encodedLineBreaks.Replace(text))
}

// rawParam is the lenient fallback for values ParseQuery rejected, e.g. a
// stray "%" inside the message.
func rawParam(query, key string) string {
	for _, part := range strings.Split(query, "&") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k != key {
			continue
		}
		v = strings.ReplaceAll(v, "+", " ")
		if dec, err := url.PathUnescape(v); err == nil {
			return dec
		}
		return v
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
