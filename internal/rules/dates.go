package rules

import (
	"go.uber.org/zap"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

// dateMissing reports whether a derived date still needs stamping. A
// non-empty value is never restamped, so a date survives status churn
// upstream; only genuine absence (or an explicitly blanked cell) fires.
func dateMissing(rec airtable.Record, field string) bool {
	return !rec.Has(field) || rec.Str(field) == ""
}

// AvailableCandidates returns the ids of pets that have reached or passed
// the published stage but carry no available date yet.
func AvailableCandidates(log *zap.Logger, pets []airtable.Record) []string {
	var ids []string
	for _, pet := range pets {
		status, ok := checkStatus(log, pet)
		if !ok {
			continue
		}
		if availableOrLater[status] && dateMissing(pet, airtable.FieldAvailableDate) {
			ids = append(ids, pet.ID)
		}
	}
	return ids
}

// AdoptedCandidates returns the ids of adopted pets with no adopted date.
func AdoptedCandidates(log *zap.Logger, pets []airtable.Record) []string {
	var ids []string
	for _, pet := range pets {
		status, ok := checkStatus(log, pet)
		if !ok {
			continue
		}
		if status == StatusAdopted && dateMissing(pet, airtable.FieldAdoptedDate) {
			ids = append(ids, pet.ID)
		}
	}
	return ids
}

// RemovedCandidates returns the ids of removed pets with no removed date.
func RemovedCandidates(log *zap.Logger, pets []airtable.Record) []string {
	var ids []string
	for _, pet := range pets {
		status, ok := checkStatus(log, pet)
		if !ok {
			continue
		}
		if status == StatusRemoved && dateMissing(pet, airtable.FieldRemovedDate) {
			ids = append(ids, pet.ID)
		}
	}
	return ids
}

// DateStamps builds the batch-write payload stamping field with today for
// each candidate id.
func DateStamps(ids []string, field, today string) []airtable.Update {
	updates := make([]airtable.Update, len(ids))
	for i, id := range ids {
		updates[i] = airtable.Update{
			ID:     id,
			Fields: map[string]any{field: today},
		}
	}
	return updates
}
