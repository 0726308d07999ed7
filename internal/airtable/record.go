// Package airtable is the record store client: paginated reads and batched,
// verified writes against the Airtable REST API. Field values are kept as the
// raw decoded JSON (string, float64, []any, map) and accessed through the
// typed helpers on Record, because field presence is semantically distinct
// from an empty value on this backend.
package airtable

import "strconv"

// Backend column names. These are the literal Airtable field names and must
// be treated as stable string keys.
const (
	FieldStatus        = "Status"
	FieldAvailableDate = "Made Available for Adoption Date"
	FieldAdoptedDate   = "Adopted Date"
	FieldRemovedDate   = "Removed from Program Date"
	FieldPictures      = "Pictures"
	FieldThumbnailURL  = "ThumbnailURL"
	FieldPictureMap    = "PictureMap-DoNotModify"
	FieldPetName       = "Pet Name"
	FieldPetID         = "Pet ID - do not edit"
	FieldPetSpecies    = "Pet Species"
	FieldOriginalOwner = "Original Owner"
	FieldDisclaimers   = "Disclaimers"
	FieldContractLink  = "Contract Link"
	FieldAppliedFor    = "Applied For"
	FieldName          = "Name"
	FieldEmail         = "Email Address"
	FieldMedical       = "Medical Records"
)

// Attachment is one entry of a picture-type field. The binary lives at URL
// until the attachment is edited upstream; Filename is not guaranteed unique
// within a record.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Record is a single row of a remote table. Fields holds only the columns
// that are present; a column the backend omitted is absent from the map.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// Has reports whether the field is present at all, regardless of value.
func (r Record) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// Str returns the field as a string, or "" when absent or not a string.
func (r Record) Str(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Text returns the field rendered as text: strings as-is, numbers without a
// trailing decimal point. Autonumber columns arrive as JSON numbers.
func (r Record) Text(name string) string {
	switch v := r.Fields[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Attachments decodes an attachment-type field. Entries that do not look
// like attachments are dropped.
func (r Record) Attachments(name string) []Attachment {
	items, ok := r.Fields[name].([]any)
	if !ok {
		return nil
	}
	out := make([]Attachment, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		filename, _ := m["filename"].(string)
		url, _ := m["url"].(string)
		if filename == "" && url == "" {
			continue
		}
		out = append(out, Attachment{Filename: filename, URL: url})
	}
	return out
}

// LinkedIDs decodes a linked-record field into its record ids.
func (r Record) LinkedIDs(name string) []string {
	items, ok := r.Fields[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Update is one pending write: a partial field map patched onto a record.
type Update struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}
