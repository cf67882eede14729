package s3blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the minimum S3 multipart part size (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Uploader pushes exported dataset files into the configured bucket.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewUploader creates an Uploader. prefix is prepended to every object key,
// typically "datasets".
func NewUploader(c *Client, prefix string) *Uploader {
	return &Uploader{
		client: c.S3(),
		bucket: c.Bucket(),
		prefix: strings.Trim(prefix, "/"),
	}
}

// Put uploads a payload as a single PutObject request.
func (u *Uploader) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.key(key)),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// UploadFile streams a local file to the bucket, using the multipart manager
// so large export files are split and uploaded concurrently.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3blob: open %s: %w", localPath, err)
	}
	defer f.Close()

	uploader := manager.NewUploader(u.client, func(up *manager.Uploader) {
		up.PartSize = minPartSize
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.key(key)),
		Body:        f,
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", localPath, err)
	}
	return nil
}

// UploadDir uploads every regular file under dir, preserving relative paths
// below keyPrefix. Used to push a whole export run in one call.
func (u *Uploader) UploadDir(ctx context.Context, dir, keyPrefix string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := u.UploadFile(ctx, p, path.Join(keyPrefix, filepath.ToSlash(rel))); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("s3blob: upload dir %s: %w", dir, err)
	}
	return uploaded, nil
}

func (u *Uploader) key(k string) string {
	k = strings.TrimPrefix(k, "/")
	if u.prefix == "" {
		return k
	}
	return u.prefix + "/" + k
}

func contentTypeFor(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
