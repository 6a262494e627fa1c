package campaign

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"velo/internal/contact"
)

// Identity ties saved progress to the contact list it was produced from.
type Identity struct {
	Source string `json:"source"`
	Hash   string `json:"hash"`
	Count  int    `json:"count"`
}

// NewIdentity fingerprints the ordered list. Any change to order, recipient
// or message body yields a different hash.
func NewIdentity(source string, contacts []contact.Contact) Identity {
	h := sha256.New()
	for _, c := range contacts {
		h.Write([]byte(c.RecipientID))
		h.Write([]byte{0})
		h.Write([]byte(c.MessageBody))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(c.SourceRow)))
		h.Write([]byte{'\n'})
	}
	return Identity{Source: source, Hash: hex.EncodeToString(h.Sum(nil)), Count: len(contacts)}
}

// Matches compares by content hash when both sides carry one, by source otherwise.
func (i Identity) Matches(o Identity) bool {
	if i.Hash != "" && o.Hash != "" {
		return i.Hash == o.Hash && i.Count == o.Count
	}
	return i.Source != "" && i.Source == o.Source && i.Count == o.Count
}

func (i Identity) Short() string {
	if len(i.Hash) > 12 {
		return i.Hash[:12]
	}
	return i.Hash
}
