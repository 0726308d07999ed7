package rules

import (
	"encoding/json"
	"math/rand"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
)

// renamePrefix marks a filename as already normalized. The rename rule is
// idempotent by checking for it: a mapped name carrying the prefix is never
// remapped again.
const renamePrefix = "nd_"

const randomNameLen = 10

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ThumbnailCandidates returns the ids of pets that have at least one picture
// but no thumbnail. Not status-gated: a bad status still deserves a
// thumbnail.
func ThumbnailCandidates(pets []airtable.Record) []string {
	var ids []string
	for _, pet := range pets {
		if len(pet.Attachments(airtable.FieldPictures)) > 0 &&
			(!pet.Has(airtable.FieldThumbnailURL) || pet.Str(airtable.FieldThumbnailURL) == "") {
			ids = append(ids, pet.ID)
		}
	}
	return ids
}

// DuplicatePhotoNames returns the names of pets whose picture attachments
// share an original filename. Duplicate names collide once photos are synced
// to flat storage keys, so operators have to rename them upstream.
func DuplicatePhotoNames(log *zap.Logger, pets []airtable.Record) []string {
	var bad []string
	for _, pet := range pets {
		pictures := pet.Attachments(airtable.FieldPictures)
		if len(pictures) == 0 {
			continue
		}
		seen := make(map[string]bool, len(pictures))
		dup := false
		for _, pic := range pictures {
			if seen[pic.Filename] {
				dup = true
				break
			}
			seen[pic.Filename] = true
		}
		if dup {
			log.Warn("duplicate photo names",
				zap.String("id", pet.ID),
				zap.String("pet", pet.Str(airtable.FieldPetName)))
			bad = append(bad, pet.Str(airtable.FieldPetName))
		}
	}
	return bad
}

// ParseRemap decodes the persisted original->normalized filename map stored
// on the record itself. An absent or empty field is an empty map.
func ParseRemap(rec airtable.Record) map[string]string {
	raw := rec.Str(airtable.FieldPictureMap)
	if raw == "" {
		return map[string]string{}
	}
	remap := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &remap); err != nil {
		return map[string]string{}
	}
	return remap
}

// NormalizedName resolves an attachment's storage filename through the remap
// and sanitizes it for use as an object key segment.
func NormalizedName(remap map[string]string, filename string) string {
	if mapped, ok := remap[filename]; ok && mapped != "" {
		filename = mapped
	}
	filename = strings.ReplaceAll(filename, " ", "_")
	return strings.ReplaceAll(filename, "%20", "_")
}

// RenameResult is the outcome of one rename pass.
type RenameResult struct {
	Updates []airtable.Update
	Renamed int
}

// RenamePhotos assigns a collision-resistant normalized name to every picture
// attachment not yet covered by the record's filename remap, and produces the
// metadata-only updates persisting the grown maps. The attachment binaries
// are untouched. Records already fully remapped produce nothing, so a second
// pass over the same records renames zero photos.
func RenamePhotos(log *zap.Logger, pets []airtable.Record) RenameResult {
	var result RenameResult
	for i := range pets {
		pet := pets[i]
		pictures := pet.Attachments(airtable.FieldPictures)
		if len(pictures) == 0 {
			continue
		}

		remap := ParseRemap(pet)
		changed := false
		for _, pic := range pictures {
			if strings.HasPrefix(remap[pic.Filename], renamePrefix) {
				continue
			}
			ext := path.Ext(pic.Filename)
			if ext == "" {
				ext = ".jpg"
			}
			newName := renamePrefix + randomName() + ext
			log.Info("renaming photo",
				zap.String("id", pet.ID),
				zap.String("from", pic.Filename),
				zap.String("to", newName))
			remap[pic.Filename] = newName
			result.Renamed++
			changed = true
		}
		if !changed {
			continue
		}

		serialized, err := json.Marshal(remap)
		if err != nil {
			log.Error("marshal picture map", zap.String("id", pet.ID), zap.Error(err))
			continue
		}
		result.Updates = append(result.Updates, airtable.Update{
			ID:     pet.ID,
			Fields: map[string]any{airtable.FieldPictureMap: string(serialized)},
		})
		// Later passes in the same run (thumbnails, photo sync) must see
		// the new names without refetching.
		pets[i].Fields[airtable.FieldPictureMap] = string(serialized)
	}
	return result
}

func randomName() string {
	b := make([]byte, randomNameLen)
	for i := range b {
		b[i] = nameAlphabet[rand.Intn(len(nameAlphabet))]
	}
	return string(b)
}
