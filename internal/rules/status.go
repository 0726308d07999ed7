// Package rules holds the field derivation rules: pure functions that decide,
// per record, whether a derived field is missing and what its value should
// be. Rules never talk to the network; the driver feeds them fetched records
// and writes back whatever they produce.
package rules

import (
	"go.uber.org/zap"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

// The closed set of pet statuses. Anything else is a data-entry error.
const (
	StatusAccepted  = "Accepted, Not Yet Published"
	StatusPublished = "Published - Available for Adoption"
	StatusPending   = "Adoption Pending"
	StatusAdopted   = "Adopted"
	StatusRemoved   = "Removed from Program"
)

var knownStatuses = map[string]bool{
	StatusAccepted:  true,
	StatusPublished: true,
	StatusPending:   true,
	StatusAdopted:   true,
	StatusRemoved:   true,
}

// availableOrLater is the cumulative "has been made available" milestone: once
// a pet has reached or passed the published stage, an available date must
// exist regardless of the current stage.
var availableOrLater = map[string]bool{
	StatusPublished: true,
	StatusPending:   true,
	StatusAdopted:   true,
	StatusRemoved:   true,
}

// checkStatus is the shared validity gate for the status-driven rules. A
// record with an unknown or empty/missing status is skipped with one warning
// and takes no part in date stamping for this pass.
func checkStatus(log *zap.Logger, rec airtable.Record) (string, bool) {
	status := rec.Str(airtable.FieldStatus)
	if rec.Has(airtable.FieldStatus) && status != "" && !knownStatuses[status] {
		log.Warn("unknown pet status",
			zap.String("status", status),
			zap.String("id", rec.ID))
		return "", false
	}
	if status == "" {
		log.Warn("empty or missing pet status", zap.String("id", rec.ID))
		return "", false
	}
	return status, true
}
