package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

func pet(id string, fields map[string]any) airtable.Record {
	return airtable.Record{ID: id, Fields: fields}
}

func pictures(names ...string) []any {
	items := make([]any, len(names))
	for i, n := range names {
		items[i] = map[string]any{"filename": n, "url": "https://dl.example.com/" + n}
	}
	return items
}

func TestAvailableCandidates(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pet Name": "Test Doggo", "Status": StatusPublished}),
		pet("2", map[string]any{"Pet Name": "Test Cat", "Status": StatusPending,
			airtable.FieldAvailableDate: "some date"}),
		pet("3", map[string]any{"Pet Name": "Test Birdie", "Status": StatusAdopted,
			airtable.FieldAvailableDate: ""}),
		pet("4", map[string]any{"Pet Name": "Spot", "Status": StatusAccepted,
			airtable.FieldAvailableDate: ""}),
	}

	ids := AvailableCandidates(zaptest.NewLogger(t), pets)
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestAvailableCandidates_OrderIndependent(t *testing.T) {
	pets := []airtable.Record{
		pet("4", map[string]any{"Status": StatusAccepted}),
		pet("3", map[string]any{"Status": StatusRemoved}),
		pet("1", map[string]any{"Status": StatusPublished}),
	}

	ids := AvailableCandidates(zaptest.NewLogger(t), pets)
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
}

func TestUnknownStatusSkippedWithOneWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	pets := []airtable.Record{
		pet("1", map[string]any{"Pet Name": "Test Doggo", "Status": "Something Random"}),
	}
	assert.Empty(t, AvailableCandidates(log, pets))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unknown pet status", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Something Random", fields["status"])
	assert.Equal(t, "1", fields["id"])
}

func TestEmptyAndMissingStatusSkippedWithOneWarning(t *testing.T) {
	for name, fields := range map[string]map[string]any{
		"empty":   {"Pet Name": "Test Doggo", "Status": ""},
		"missing": {"Pet Name": "Test Doggo"},
	} {
		t.Run(name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			log := zap.New(core)

			assert.Empty(t, AdoptedCandidates(log, []airtable.Record{pet("7", fields)}))

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, "empty or missing pet status", entries[0].Message)
			assert.Equal(t, "7", entries[0].ContextMap()["id"])
		})
	}
}

func TestAdoptedAndRemovedCandidates(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Status": StatusAdopted}),
		pet("2", map[string]any{"Status": StatusAdopted, airtable.FieldAdoptedDate: "2024-01-01"}),
		pet("3", map[string]any{"Status": StatusRemoved}),
		pet("4", map[string]any{"Status": StatusRemoved, airtable.FieldRemovedDate: "2024-01-01"}),
		pet("5", map[string]any{"Status": StatusPublished}),
	}
	log := zaptest.NewLogger(t)

	assert.Equal(t, []string{"1"}, AdoptedCandidates(log, pets))
	assert.Equal(t, []string{"3"}, RemovedCandidates(log, pets))
}

func TestDateStamps(t *testing.T) {
	updates := DateStamps([]string{"a", "b"}, airtable.FieldAdoptedDate, "2026-08-31")
	require.Len(t, updates, 2)
	assert.Equal(t, "a", updates[0].ID)
	assert.Equal(t, map[string]any{airtable.FieldAdoptedDate: "2026-08-31"}, updates[0].Fields)
}

func TestThumbnailCandidates(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pictures": pictures("a.jpg")}),
		pet("2", map[string]any{"Pictures": pictures("b.jpg"), airtable.FieldThumbnailURL: "https://cdn/b.jpg"}),
		pet("3", map[string]any{"Pictures": pictures("c.jpg"), airtable.FieldThumbnailURL: ""}),
		pet("4", map[string]any{"Status": "Bad Status Does Not Matter Here", "Pictures": pictures("d.jpg")}),
		pet("5", map[string]any{}),
	}

	assert.Equal(t, []string{"1", "3", "4"}, ThumbnailCandidates(pets))
}

func TestDuplicatePhotoNames(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pet Name": "Spot", "Pictures": pictures("a.jpg", "a.jpg")}),
		pet("2", map[string]any{"Pet Name": "Rex", "Pictures": pictures("a.jpg", "b.jpg")}),
	}

	assert.Equal(t, []string{"Spot"}, DuplicatePhotoNames(zaptest.NewLogger(t), pets))
}

func TestRenamePhotos(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pictures": pictures("holiday photo.jpg", "other.png")}),
	}

	result := RenamePhotos(zaptest.NewLogger(t), pets)
	assert.Equal(t, 2, result.Renamed)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, "1", result.Updates[0].ID)

	remap := ParseRemap(pets[0])
	require.Len(t, remap, 2)
	assert.True(t, strings.HasPrefix(remap["holiday photo.jpg"], "nd_"))
	assert.True(t, strings.HasSuffix(remap["holiday photo.jpg"], ".jpg"))
	assert.True(t, strings.HasSuffix(remap["other.png"], ".png"))
	// prefix + 10 random chars + extension
	assert.Len(t, remap["other.png"], len("nd_")+10+len(".png"))
}

func TestRenamePhotos_SecondRunIsNoop(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pictures": pictures("a.jpg", "b")}),
	}
	log := zaptest.NewLogger(t)

	first := RenamePhotos(log, pets)
	require.Equal(t, 2, first.Renamed)
	before := ParseRemap(pets[0])

	second := RenamePhotos(log, pets)
	assert.Zero(t, second.Renamed)
	assert.Empty(t, second.Updates)
	assert.Equal(t, before, ParseRemap(pets[0]))
}

func TestRenamePhotos_DefaultsExtension(t *testing.T) {
	pets := []airtable.Record{
		pet("1", map[string]any{"Pictures": pictures("bare")}),
	}

	RenamePhotos(zaptest.NewLogger(t), pets)
	remap := ParseRemap(pets[0])
	assert.True(t, strings.HasSuffix(remap["bare"], ".jpg"))
}

func TestNormalizedName(t *testing.T) {
	remap := map[string]string{"orig name.jpg": "nd_ABC123.jpg"}
	assert.Equal(t, "nd_ABC123.jpg", NormalizedName(remap, "orig name.jpg"))
	assert.Equal(t, "not_mapped.jpg", NormalizedName(remap, "not mapped.jpg"))
	assert.Equal(t, "a_b.jpg", NormalizedName(nil, "a%20b.jpg"))
}
