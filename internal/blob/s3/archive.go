package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// multipartThreshold is the size above which uploads go through the
// multipart manager. 5 MiB is also the S3 minimum part size.
const multipartThreshold int64 = 5 * 1024 * 1024

// Archive stores write-once settlement artifacts in one bucket, under the
// client's key prefix.
type Archive struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewArchive creates an Archive on c's bucket.
func NewArchive(c *Client) *Archive {
	return &Archive{
		client: c.s3,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
		bucket: c.bucket,
		prefix: c.prefix,
	}
}

func (a *Archive) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

// PutOnce uploads data under key unless an object is already there. Small
// objects use a conditional PutObject; large ones are checked first and
// then uploaded in parts. Every object carries its SHA-256 as metadata.
func (a *Archive) PutOnce(ctx context.Context, key string, data []byte, contentType string) error {
	full := a.objectKey(key)
	sum := sha256.Sum256(data)
	meta := map[string]string{"content-sha256": hex.EncodeToString(sum[:])}

	if int64(len(data)) > multipartThreshold {
		ok, err := a.Exists(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("s3blob: put %s: %w", full, domain.ErrAlreadyExists)
		}
		_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(full),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
			Metadata:    meta,
		})
		if err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", full, err)
		}
		return nil
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(full),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		IfNoneMatch:   aws.String("*"),
		Metadata:      meta,
	})
	if err != nil {
		if statusCode(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("s3blob: put %s: %w", full, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("s3blob: put %s: %w", full, err)
	}
	return nil
}

// Open returns the object body, which the caller must close.
func (a *Archive) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	full := a.objectKey(key)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: open %s: %w", full, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: open %s: %w", full, err)
	}
	return out.Body, nil
}

// Exists issues a HeadObject for key.
func (a *Archive) Exists(ctx context.Context, key string) (bool, error) {
	full := a.objectKey(key)
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3blob: exists %s: %w", full, err)
	}
	return true, nil
}

// isNotFound matches NoSuchKey, the typed NotFound HeadObject returns, and
// bare 404s from S3-compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		return httpErr.HTTPStatusCode()
	}
	return 0
}

var (
	_ domain.ArchiveWriter = (*Archive)(nil)
	_ domain.ArchiveReader = (*Archive)(nil)
)
