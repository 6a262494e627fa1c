// Package contact turns raw ingestion rows into an ordered list of
// dispatchable recipients.
package contact

import "errors"

var (
	// ErrInvalidRecipient means the raw value could not be normalized into a
	// recipient id. Such a row never reaches the transport.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrNoRecipientField means the column mapping lacks the mandatory recipient column.
	ErrNoRecipientField = errors.New("recipient field is not mapped")
)

const (
	// DefaultCountryCode is prepended to numbers that do not already carry it.
	DefaultCountryCode = "62"
	// DefaultDisplayName is used when a row has no name column value.
	DefaultDisplayName = "Customer"
	// FallbackMessage is used when neither a link, a column nor a campaign
	// default supplies a message body.
	FallbackMessage = "Hello!"

	minRecipientDigits = 10
	maxRecipientDigits = 15
)

// Contact is one recipient of a campaign. It is immutable once built.
type Contact struct {
	RecipientID     string `json:"recipient_id"`
	DisplayName     string `json:"display_name"`
	MessageBody     string `json:"message_body"`
	SourceRow       int    `json:"source_row"`
	MessageFromLink bool   `json:"message_from_link"`
}

// Row is one ingested record keyed by column header.
type Row map[string]string

// Mapping names the columns that carry each contact field.
// RecipientField is mandatory; NameField and MessageField may be empty.
type Mapping struct {
	RecipientField string `json:"recipient_field"`
	NameField      string `json:"name_field,omitempty"`
	MessageField   string `json:"message_field,omitempty"`
}
