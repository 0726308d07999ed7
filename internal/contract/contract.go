// Package contract builds the prefilled adoption-contract form link for an
// applicant. The long URL is assembled from whatever cross-referenced fields
// are present; a missing reference just leaves its parameters off the query
// string rather than sending empty values.
package contract

import (
	"net/url"
	"strings"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

// Per-species contract form base URLs.
const (
	dogFormURL   = "https://form.jotform.com/212055719626154"
	otherFormURL = "https://form.jotform.com/212054429850049"
)

// PetInfo is the cross-referenced context gathered for one applicant. Empty
// fields were unresolvable and are simply omitted from the link.
type PetInfo struct {
	PetName    string
	PetID      string
	IsDog      bool
	OwnerName  string
	OwnerEmail string
	Disclaimer string
}

// Lookup resolves the applicant's pet and, through it, the pet's original
// owner. Any missing cross-reference leaves the corresponding fields empty;
// it never fails.
func Lookup(app airtable.Record, pets, owners []airtable.Record) PetInfo {
	var info PetInfo

	petIDs := app.LinkedIDs(airtable.FieldAppliedFor)
	if len(petIDs) == 0 {
		return info
	}

	var ownerID string
	for _, pet := range pets {
		if pet.ID != petIDs[0] {
			continue
		}
		info.PetName = pet.Str(airtable.FieldPetName)
		info.PetID = pet.Text(airtable.FieldPetID)
		info.IsDog = pet.Str(airtable.FieldPetSpecies) == "Dog"
		info.Disclaimer = pet.Str(airtable.FieldDisclaimers)
		if linked := pet.LinkedIDs(airtable.FieldOriginalOwner); len(linked) > 0 {
			ownerID = linked[0]
		}
		break
	}
	if ownerID == "" {
		return info
	}

	for _, owner := range owners {
		if owner.ID != ownerID {
			continue
		}
		info.OwnerName = owner.Str(airtable.FieldName)
		info.OwnerEmail = owner.Str(airtable.FieldEmail)
		break
	}
	return info
}

// BuildLink assembles the long prefilled form URL for an applicant. Only
// present fields become query parameters.
func BuildLink(app airtable.Record, info PetInfo) string {
	base := otherFormURL
	if info.IsDog {
		base = dogFormURL
	}

	params := url.Values{}
	if info.PetName != "" {
		params.Set("petName", info.PetName)
	}
	if info.PetID != "" {
		params.Set("petId", info.PetID)
	}
	if info.OwnerName != "" {
		first, last := splitName(info.OwnerName)
		params.Set("input6[firstname-3]", first)
		params.Set("input6[lastname-3]", last)
	}
	if info.OwnerEmail != "" {
		params.Set("ownersEmail", info.OwnerEmail)
	}
	if info.Disclaimer != "" {
		params.Set("petSpecific", info.Disclaimer)
	}
	if appName := app.Str(airtable.FieldName); appName != "" {
		first, last := splitName(appName)
		params.Set("input6[firstname-4]", first)
		params.Set("input6[lastname-4]", last)
	}

	return base + "?" + params.Encode()
}

// splitName splits a free-text name on the first whitespace for form
// prefilling. Best-effort: a single-word name gets an empty last name.
func splitName(name string) (first, last string) {
	i := strings.Index(name, " ")
	if i < 0 {
		return name, ""
	}
	return name[:i], strings.TrimSpace(name[i:])
}
