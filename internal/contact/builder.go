package contact

import (
	"strings"

	logx "velo/pkg/logx"
)

// BuildOptions carries the campaign-level inputs of the builder.
type BuildOptions struct {
	CountryCode    string
	DefaultMessage string
}

// Skipped describes a row that never entered the campaign.
type Skipped struct {
	SourceRow int
	Raw       string
	Reason    error
}

type BuildResult struct {
	Contacts []Contact
	Skipped  []Skipped
	Total    int
}

func (r BuildResult) Valid() int { return len(r.Contacts) }

// Build normalizes every row and returns the dispatchable contacts in row
// order. Rows whose recipient cannot be normalized are skipped and logged;
// they are not retried. Source rows are numbered from 1.
func Build(rows []Row, m Mapping, opt BuildOptions, log logx.Logger) (BuildResult, error) {
	if strings.TrimSpace(m.RecipientField) == "" {
		return BuildResult{}, ErrNoRecipientField
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	res := BuildResult{Total: len(rows), Contacts: make([]Contact, 0, len(rows))}
	for i, row := range rows {
		rowNum := i + 1
		raw := row[m.RecipientField]

		n, err := Normalize(raw, opt.CountryCode)
		if err != nil {
			log.Warn("row skipped: invalid recipient", logx.Int("row", rowNum), logx.String("raw", raw), logx.Err(err))
			res.Skipped = append(res.Skipped, Skipped{SourceRow: rowNum, Raw: raw, Reason: err})
			continue
		}

		var column string
		if m.MessageField != "" {
			column = row[m.MessageField]
		}
		body, fromLink := ResolveMessage(n.Message, column, opt.DefaultMessage)
		if fromLink {
			log.Debug("using message embedded in link", logx.Int("row", rowNum), logx.Int("chars", len(body)))
		}

		name := DefaultDisplayName
		if m.NameField != "" {
			name = ResolveName(row[m.NameField])
		}

		res.Contacts = append(res.Contacts, Contact{
			RecipientID:     n.RecipientID,
			DisplayName:     name,
			MessageBody:     body,
			SourceRow:       rowNum,
			MessageFromLink: fromLink,
		})
	}

	log.Info("contact list built", logx.Int("valid", res.Valid()), logx.Int("total", res.Total), logx.Int("skipped", len(res.Skipped)))
	return res, nil
}
