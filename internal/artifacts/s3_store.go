package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"certificate-portal/certificate-backend/pkg/storage"
)

// S3Store keeps artifacts in a bucket. Uploads are conditional on the key
// being absent, so concurrent writers of one content id store it once.
type S3Store struct {
	client storage.S3Client
	bucket string
	prefix string
	logger *zap.Logger
	group  singleflight.Group
}

func NewS3Store(client storage.S3Client, bucket, prefix string, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *S3Store) Put(ctx context.Context, contentID string, data []byte) (string, error) {
	ref, err := Key(contentID)
	if err != nil {
		return "", err
	}

	_, err, _ = s.group.Do(contentID, func() (interface{}, error) {
		exists, err := s.client.Exists(ctx, s.bucket, s.key(ref))
		if err != nil {
			return nil, err
		}
		if exists {
			s.logger.Debug("Artifact already stored", zap.String("ref", ref))
			return nil, nil
		}

		err = s.client.Upload(ctx, s.bucket, s.key(ref), bytes.NewReader(data), storage.UploadOptions{
			ContentType: "application/pdf",
			Metadata:    map[string]string{"content-id": contentID},
			IfAbsent:    true,
		})
		if errors.Is(err, storage.ErrObjectExists) {
			s.logger.Debug("Artifact stored concurrently", zap.String("ref", ref))
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("Artifact stored",
			zap.String("bucket", s.bucket),
			zap.String("ref", ref),
			zap.Int("bytes", len(data)),
		)
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Download(ctx, s.bucket, s.key(ref))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}

func (s *S3Store) Lookup(ctx context.Context, contentID string) (string, bool, error) {
	ref, err := Key(contentID)
	if err != nil {
		return "", false, err
	}
	exists, err := s.client.Exists(ctx, s.bucket, s.key(ref))
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	return ref, true, nil
}

func (s *S3Store) PresignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	return s.client.GetPresignedURL(ctx, s.bucket, s.key(ref), ttl)
}

func (s *S3Store) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return path.Join(s.prefix, ref)
}
