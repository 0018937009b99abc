// Package archive keeps the raw RTE payload of each run in an S3-compatible
// bucket as gzipped JSON.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/rte-generation-watcher/services/watcher/internal/models"
)

const keyTimeLayout = "20060102T150405Z"

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archive writes payloads to one bucket.
type Archive struct {
	client objectPutter
	bucket string
}

// New connects to the object store and creates the bucket if needed.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create archive bucket: %w", err)
		}
	}

	return &Archive{client: cli, bucket: cfg.Bucket}, nil
}

// Store uploads raw under ObjectKey(w, runID) and returns the key.
func (a *Archive) Store(ctx context.Context, w models.Window, runID string, raw []byte) (string, error) {
	body, err := gzipBytes(raw)
	if err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}

	key := ObjectKey(w, runID)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"run-id":       runID,
			"window-start": w.Start.UTC().Format(keyTimeLayout),
			"window-end":   w.End.UTC().Format(keyTimeLayout),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey partitions payloads by the UTC day of the window start.
func ObjectKey(w models.Window, runID string) string {
	start := w.Start.UTC()
	return fmt.Sprintf("generation/%s/%s_%s_%s.json.gz",
		start.Format("2006/01/02"),
		start.Format(keyTimeLayout),
		w.End.UTC().Format(keyTimeLayout),
		runID)
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
