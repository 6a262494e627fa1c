package app

import (
	"fmt"
	"strings"

	"velo/internal/campaign"
	"velo/internal/contact"
	"velo/internal/ingest"
	logx "velo/pkg/logx"
)

// Input selects the contact file and, optionally, its columns. Empty column
// names are auto-detected from the headers.
type Input struct {
	Path          string
	PhoneColumn   string
	NameColumn    string
	MessageColumn string
	// DefaultMessage overrides campaign.default_message.
	DefaultMessage string
}

// Prepared is a contact file turned into a campaign plan.
type Prepared struct {
	Plan    campaign.Plan
	Table   ingest.Table
	Mapping contact.Mapping
	Result  contact.BuildResult
}

// Prepare reads the contact file and builds the campaign plan.
func (a *App) Prepare(in Input) (Prepared, error) {
	t, err := ingest.ReadFile(in.Path)
	if err != nil {
		return Prepared{}, err
	}
	m, err := resolveMapping(t.Headers, in)
	if err != nil {
		return Prepared{}, err
	}
	msg := a.cfg.Campaign.DefaultMessage
	if strings.TrimSpace(in.DefaultMessage) != "" {
		msg = in.DefaultMessage
	}
	res, err := contact.Build(t.Rows, m, contact.BuildOptions{
		CountryCode:    a.cfg.Campaign.CountryCode,
		DefaultMessage: msg,
	}, a.logs.Logger().With(logx.String("comp", "contacts")))
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{
		Plan: campaign.Plan{
			Identity: campaign.NewIdentity(t.Source, res.Contacts),
			Contacts: res.Contacts,
		},
		Table:   t,
		Mapping: m,
		Result:  res,
	}, nil
}

func resolveMapping(headers []string, in Input) (contact.Mapping, error) {
	m, _ := ingest.DetectMapping(headers)
	for _, o := range []struct {
		flag string
		name string
		dst  *string
	}{
		{"phone", in.PhoneColumn, &m.RecipientField},
		{"name", in.NameColumn, &m.NameField},
		{"message", in.MessageColumn, &m.MessageField},
	} {
		if o.name == "" {
			continue
		}
		if !ingest.HasColumn(headers, o.name) {
			return contact.Mapping{}, fmt.Errorf("%s column %q not found (have: %s)", o.flag, o.name, strings.Join(headers, ", "))
		}
		*o.dst = o.name
	}
	// a column feeds at most one field
	if m.NameField == m.RecipientField {
		m.NameField = ""
	}
	if m.MessageField == m.RecipientField || m.MessageField == m.NameField {
		m.MessageField = ""
	}
	if m.RecipientField == "" {
		return contact.Mapping{}, fmt.Errorf("%w: no phone column detected (have: %s)", contact.ErrNoRecipientField, strings.Join(headers, ", "))
	}
	return m, nil
}
