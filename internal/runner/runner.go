// Package runner is the reconciliation driver: one invocation fetches the
// remote tables, runs each derivation pass, batch-writes the results and
// reports a summary of counts. Passes are independent; a failed pass logs
// and reports zero without blocking the others. Only primary table reads
// abort the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
	"github.com/dallaspetsalive/newdigs-sync/internal/contract"
	"github.com/dallaspetsalive/newdigs-sync/internal/images"
	"github.com/dallaspetsalive/newdigs-sync/internal/rules"
	"github.com/dallaspetsalive/newdigs-sync/internal/sheets"
	"github.com/dallaspetsalive/newdigs-sync/internal/storage"
)

// The remote table names.
const (
	TablePets         = "Pets"
	TableApplicants   = "Adoption Applicants"
	TableParticipants = "Participant Applicants"
	TableOwners       = "Original Owners"
)

// RecordStore is the record store surface the driver needs.
type RecordStore interface {
	FetchAll(ctx context.Context, table string) ([]airtable.Record, error)
	BatchWrite(ctx context.Context, table string, updates []airtable.Update, expect airtable.Expectation) (int, error)
}

// LinkShortener shortens contract links and garbage-collects stale ones.
type LinkShortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
	Cleanup(ctx context.Context, activePetIDs map[string]bool) (int, error)
}

// Thumbnailer produces local thumbnail files and downloads photo binaries
// into scratch storage. Its method set satisfies storage.Fetcher.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, url, filename string) (string, error)
	Fetch(ctx context.Context, url, filename string) (string, error)
}

// PhotoStore is the object store surface the driver needs.
type PhotoStore interface {
	ListPhotos(ctx context.Context) (map[string]bool, error)
	MissingPhotos(pets []airtable.Record, existing map[string]bool) []storage.Photo
	UploadMissing(ctx context.Context, missing []storage.Photo, fetch storage.Fetcher) int
	UploadThumbnail(ctx context.Context, localPath string) (string, error)
}

// Alerter notifies operators about data-quality problems.
type Alerter interface {
	Notify(ctx context.Context, text string) error
}

// SheetSyncer mirrors tables to spreadsheets.
type SheetSyncer interface {
	SyncAll(ctx context.Context, mappings []sheets.Mapping) int
}

// Summary is the run's externally observable result: one count per pass.
type Summary struct {
	AvailableUpdated  int `json:"available_pets_updated"`
	AdoptedUpdated    int `json:"adopted_pets_updated"`
	RemovedUpdated    int `json:"removed_pets_updated"`
	ContractsAdded    int `json:"adoption_contracts_added"`
	SheetRowsWritten  int `json:"google_sheets_rows_written"`
	ThumbnailsUpdated int `json:"thumbnails_updated"`
	PhotosUploaded    int `json:"photos_uploaded"`
	LinksCleanedUp    int `json:"links_cleaned_up"`
	PhotosRenamed     int `json:"photos_renamed"`
}

// Deps are the driver's collaborators.
type Deps struct {
	Store     RecordStore
	Shortener LinkShortener
	Images    Thumbnailer
	Photos    PhotoStore
	Alerts    Alerter
	Sheets    SheetSyncer
	Log       *zap.Logger
}

// Options tune a run.
type Options struct {
	// CleanupLinks enables the shortener garbage-collection pass.
	CleanupLinks bool
	// SyncSheets enables the spreadsheet mirror pass.
	SyncSheets    bool
	SheetMappings []sheets.Mapping
	// Now is the clock, substitutable in tests. Defaults to time.Now.
	Now func() time.Time
}

// Driver runs the reconciliation.
type Driver struct {
	deps Deps
	opts Options
}

// New creates a driver.
func New(deps Deps, opts Options) *Driver {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Driver{deps: deps, opts: opts}
}

// Run executes every pass once, sequentially. Only a read failure on one of
// the primary tables returns an error; everything else degrades to a zero
// count in the summary.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	log := d.deps.Log.With(zap.String("run_id", uuid.NewString()))
	summary := &Summary{}

	pets, err := d.deps.Store.FetchAll(ctx, TablePets)
	if err != nil {
		return nil, fmt.Errorf("fetch pets: %w", err)
	}
	log.Info("fetched pets", zap.Int("count", len(pets)))

	d.checkPhotoNames(ctx, log, pets)
	summary.PhotosRenamed = d.renamePass(ctx, log, pets)

	today := d.opts.Now().Format("2006-01-02")
	summary.AvailableUpdated = d.datePass(ctx, log, "available",
		rules.AvailableCandidates(log, pets), airtable.FieldAvailableDate, today)
	summary.AdoptedUpdated = d.datePass(ctx, log, "adopted",
		rules.AdoptedCandidates(log, pets), airtable.FieldAdoptedDate, today)
	summary.RemovedUpdated = d.datePass(ctx, log, "removed",
		rules.RemovedCandidates(log, pets), airtable.FieldRemovedDate, today)

	apps, err := d.deps.Store.FetchAll(ctx, TableApplicants)
	if err != nil {
		return nil, fmt.Errorf("fetch applicants: %w", err)
	}
	owners, err := d.deps.Store.FetchAll(ctx, TableOwners)
	if err != nil {
		return nil, fmt.Errorf("fetch owners: %w", err)
	}
	summary.ContractsAdded = d.contractPass(ctx, log, apps, pets, owners)

	if d.opts.CleanupLinks {
		n, err := d.deps.Shortener.Cleanup(ctx, ActivePetIDs(pets))
		if err != nil {
			log.Error("link cleanup failed", zap.Error(err))
		} else {
			summary.LinksCleanedUp = n
		}
	}

	if d.opts.SyncSheets {
		summary.SheetRowsWritten = d.deps.Sheets.SyncAll(ctx, d.opts.SheetMappings)
	}

	summary.ThumbnailsUpdated = d.thumbnailPass(ctx, log, pets)
	summary.PhotosUploaded = d.photoPass(ctx, log, pets)

	log.Info("run complete",
		zap.Int("available", summary.AvailableUpdated),
		zap.Int("adopted", summary.AdoptedUpdated),
		zap.Int("removed", summary.RemovedUpdated),
		zap.Int("contracts", summary.ContractsAdded),
		zap.Int("thumbnails", summary.ThumbnailsUpdated),
		zap.Int("photos", summary.PhotosUploaded),
		zap.Int("renamed", summary.PhotosRenamed))
	return summary, nil
}

// checkPhotoNames alerts on duplicate attachment filenames, at most once per
// calendar day (only during the midnight hour) to bound alert volume.
func (d *Driver) checkPhotoNames(ctx context.Context, log *zap.Logger, pets []airtable.Record) {
	if d.opts.Now().Hour() != 0 {
		return
	}
	names := rules.DuplicatePhotoNames(log, pets)
	if len(names) == 0 {
		return
	}
	text := "The following pets have duplicate photo names that must be renamed:\n" +
		strings.Join(names, "\n")
	if err := d.deps.Alerts.Notify(ctx, text); err != nil {
		log.Error("duplicate-name alert failed", zap.Error(err))
	}
}

// renamePass persists freshly normalized photo names. The count reflects the
// renames computed this run; a failed write is logged and the remap will be
// regenerated next run.
func (d *Driver) renamePass(ctx context.Context, log *zap.Logger, pets []airtable.Record) int {
	result := rules.RenamePhotos(log, pets)
	if len(result.Updates) == 0 {
		return 0
	}
	if _, err := d.deps.Store.BatchWrite(ctx, TablePets, result.Updates, airtable.Expectation{}); err != nil {
		log.Error("persisting photo renames failed", zap.Error(err))
		return 0
	}
	return result.Renamed
}

// datePass stamps today onto field for every candidate and verifies the
// echo. A verification or transport failure reports zero.
func (d *Driver) datePass(ctx context.Context, log *zap.Logger, pass string, ids []string, field, today string) int {
	if len(ids) == 0 {
		return 0
	}
	n, err := d.deps.Store.BatchWrite(ctx, TablePets,
		rules.DateStamps(ids, field, today),
		airtable.Expectation{Field: field, Value: today})
	if err != nil {
		log.Error("date pass failed", zap.String("pass", pass), zap.Error(err))
		return 0
	}
	log.Info("date pass complete", zap.String("pass", pass), zap.Int("updated", n))
	return n
}

// contractPass derives a contract link for every applicant missing one. A
// shortener failure for one applicant writes an explicit null link for that
// record only; it does not block the others.
func (d *Driver) contractPass(ctx context.Context, log *zap.Logger, apps, pets, owners []airtable.Record) int {
	var updates []airtable.Update
	for _, app := range apps {
		if app.Str(airtable.FieldContractLink) != "" {
			continue
		}
		if len(app.LinkedIDs(airtable.FieldAppliedFor)) == 0 {
			continue
		}
		info := contract.Lookup(app, pets, owners)
		longURL := contract.BuildLink(app, info)

		var link any
		short, err := d.deps.Shortener.Shorten(ctx, longURL)
		if err != nil {
			log.Warn("link shortening failed",
				zap.String("applicant", app.ID),
				zap.Error(err))
			link = nil
		} else {
			link = short
		}
		updates = append(updates, airtable.Update{
			ID:     app.ID,
			Fields: map[string]any{airtable.FieldContractLink: link},
		})
	}
	if len(updates) == 0 {
		return 0
	}

	n, err := d.deps.Store.BatchWrite(ctx, TableApplicants, updates, airtable.Expectation{})
	if err != nil {
		log.Error("contract pass failed", zap.Error(err))
		return 0
	}
	return n
}

// thumbnailPass derives a thumbnail for every pet that has pictures but no
// thumbnail URL. Per-record problems (PDF attachments, undecodable images,
// upload failures) skip that record; the batch write verifies every echoed
// URL is non-empty.
func (d *Driver) thumbnailPass(ctx context.Context, log *zap.Logger, pets []airtable.Record) int {
	candidates := rules.ThumbnailCandidates(pets)
	if len(candidates) == 0 {
		return 0
	}
	wanted := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		wanted[id] = true
	}

	var updates []airtable.Update
	for _, pet := range pets {
		if !wanted[pet.ID] {
			continue
		}
		pictures := pet.Attachments(airtable.FieldPictures)
		if len(pictures) == 0 {
			continue
		}
		log.Info("updating thumbnail", zap.String("id", pet.ID))

		remap := rules.ParseRemap(pet)
		name := rules.NormalizedName(remap, pictures[0].Filename)

		if images.IsPDF(name) {
			log.Warn("skipping pdf attachment",
				zap.String("id", pet.ID),
				zap.String("filename", name))
			d.notify(ctx, log, fmt.Sprintf(
				"Pet %s has a PDF image %s that needs to be converted.", pet.ID, name))
			continue
		}

		local, err := d.deps.Images.Thumbnail(ctx, pictures[0].URL, name)
		if err != nil {
			if errors.Is(err, images.ErrUnsupportedFormat) {
				d.notify(ctx, log, fmt.Sprintf(
					"Pet %s has an image %s that could not be processed.", pet.ID, name))
			}
			log.Error("thumbnail generation failed",
				zap.String("id", pet.ID),
				zap.Error(err))
			continue
		}

		thumbURL, err := d.deps.Photos.UploadThumbnail(ctx, local)
		if err != nil {
			log.Error("thumbnail upload failed",
				zap.String("id", pet.ID),
				zap.Error(err))
			continue
		}
		updates = append(updates, airtable.Update{
			ID:     pet.ID,
			Fields: map[string]any{airtable.FieldThumbnailURL: thumbURL},
		})
	}
	if len(updates) == 0 {
		return 0
	}

	n, err := d.deps.Store.BatchWrite(ctx, TablePets, updates,
		airtable.Expectation{Field: airtable.FieldThumbnailURL, NonEmpty: true})
	if err != nil {
		log.Error("thumbnail pass failed", zap.Error(err))
		return 0
	}
	return n
}

// photoPass uploads every attachment binary missing from the bucket.
func (d *Driver) photoPass(ctx context.Context, log *zap.Logger, pets []airtable.Record) int {
	existing, err := d.deps.Photos.ListPhotos(ctx)
	if err != nil {
		log.Error("photo listing failed", zap.Error(err))
		return 0
	}
	missing := d.deps.Photos.MissingPhotos(pets, existing)
	if len(missing) == 0 {
		return 0
	}
	return d.deps.Photos.UploadMissing(ctx, missing, d.deps.Images)
}

func (d *Driver) notify(ctx context.Context, log *zap.Logger, text string) {
	if err := d.deps.Alerts.Notify(ctx, text); err != nil {
		log.Error("operator alert failed", zap.Error(err))
	}
}

// ActivePetIDs collects the public pet ids of pets still in the program.
func ActivePetIDs(pets []airtable.Record) map[string]bool {
	active := make(map[string]bool)
	for _, pet := range pets {
		status := pet.Str(airtable.FieldStatus)
		if status == rules.StatusAdopted || status == rules.StatusRemoved {
			continue
		}
		if id := pet.Text(airtable.FieldPetID); id != "" {
			active[id] = true
		}
	}
	return active
}
