// Package storage syncs photo binaries into the media bucket: paginated key
// listing, a diff against what each record says should exist, and best-effort
// public-read uploads of whatever is missing.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/dallaspetsalive/newdigs-sync/internal/airtable"
	"github.com/dallaspetsalive/newdigs-sync/internal/rules"
)

// Config carries the bucket layout.
type Config struct {
	Region          string
	Bucket          string
	PhotoPrefix     string
	ThumbnailPrefix string
	PublicBaseURL   string
}

// DefaultConfig returns the production bucket layout.
func DefaultConfig() Config {
	return Config{
		Region:          "us-east-2",
		Bucket:          "dpa-media",
		PhotoPrefix:     "new-digs-photos/",
		ThumbnailPrefix: "new-digs-thumbnails/",
		PublicBaseURL:   "https://dpa-media.s3.us-east-2.amazonaws.com",
	}
}

// NewSession builds the shared AWS session for the region. Credentials come
// from the environment or the instance role.
func NewSession(cfg Config) (*session.Session, error) {
	return session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
}

type objectLister interface {
	ListObjectsV2PagesWithContext(aws.Context, *s3.ListObjectsV2Input, func(*s3.ListObjectsV2Output, bool) bool, ...request.Option) error
}

type objectUploader interface {
	UploadWithContext(aws.Context, *s3manager.UploadInput, ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// Fetcher downloads a remote file into scratch storage and returns the local
// path. Satisfied by images.Processor.
type Fetcher interface {
	Fetch(ctx context.Context, url, filename string) (string, error)
}

// Store is the object store client.
type Store struct {
	cfg      Config
	s3       objectLister
	uploader objectUploader
	log      *zap.Logger
}

// New creates a store on the given AWS session.
func New(cfg Config, sess *session.Session, log *zap.Logger) *Store {
	return &Store{
		cfg:      cfg,
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		log:      log,
	}
}

// ListPhotos returns the set of keys currently under the photo prefix,
// following list pagination to the end.
func (s *Store) ListPhotos(ctx context.Context) (map[string]bool, error) {
	keys := make(map[string]bool)
	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.PhotoPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, item := range page.Contents {
			keys[aws.StringValue(item.Key)] = true
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s%s: %w", s.cfg.Bucket, s.cfg.PhotoPrefix, err)
	}
	return keys, nil
}

// Photo is one attachment binary that should exist in the bucket.
type Photo struct {
	Key      string
	URL      string
	Filename string
	PetID    string
}

// MissingPhotos diffs the pets' attachments against the existing key set.
// The canonical key is photoPrefix/recordID/normalizedFilename.
func (s *Store) MissingPhotos(pets []airtable.Record, existing map[string]bool) []Photo {
	var missing []Photo
	for _, pet := range pets {
		remap := rules.ParseRemap(pet)
		for _, pic := range pet.Attachments(airtable.FieldPictures) {
			name := rules.NormalizedName(remap, pic.Filename)
			key := s.cfg.PhotoPrefix + pet.ID + "/" + name
			if existing[key] {
				continue
			}
			s.log.Info("photo missing from bucket",
				zap.String("key", key),
				zap.String("pet", pet.ID))
			missing = append(missing, Photo{
				Key:      key,
				URL:      pic.URL,
				Filename: name,
				PetID:    pet.ID,
			})
		}
	}
	return missing
}

// UploadMissing downloads and uploads each missing photo. Per-file failures
// are logged and do not block the rest; the scratch copy is removed either
// way. Returns the number of photos uploaded.
func (s *Store) UploadMissing(ctx context.Context, missing []Photo, fetch Fetcher) int {
	uploaded := 0
	for _, photo := range missing {
		local, err := fetch.Fetch(ctx, photo.URL, photo.Filename)
		if err != nil {
			s.log.Error("photo download failed", zap.String("key", photo.Key), zap.Error(err))
			continue
		}
		if err := s.upload(ctx, local, photo.Key); err != nil {
			s.log.Error("photo upload failed", zap.String("key", photo.Key), zap.Error(err))
		} else {
			uploaded++
		}
		if err := os.Remove(local); err != nil {
			s.log.Warn("scratch cleanup failed", zap.String("path", local), zap.Error(err))
		}
	}
	return uploaded
}

// UploadThumbnail puts a finished thumbnail under the thumbnail prefix and
// returns its public URL. The scratch file is removed after upload.
func (s *Store) UploadThumbnail(ctx context.Context, localPath string) (string, error) {
	key := s.cfg.ThumbnailPrefix + filepath.Base(localPath)
	if err := s.upload(ctx, localPath, key); err != nil {
		return "", err
	}
	if err := os.Remove(localPath); err != nil {
		s.log.Warn("scratch cleanup failed", zap.String("path", localPath), zap.Error(err))
	}
	return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + key, nil
}

func (s *Store) upload(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	s.log.Info("uploading", zap.String("key", key))
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
		ACL:    aws.String("public-read"),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

var (
	_ objectLister   = (*s3.S3)(nil)
	_ objectUploader = (*s3manager.Uploader)(nil)
)
