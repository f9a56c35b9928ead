package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/oddlane/traderd/internal/domain"
)

// ledgerPrefix is the key prefix for ledger snapshot objects.
const ledgerPrefix = "ledgers"

// uploadPartSize is the part size for multipart uploads (the S3 minimum).
const uploadPartSize int64 = 5 * 1024 * 1024

// Store keeps content-addressed ledger snapshots in the bucket. The object
// key is the keccak hash the replicas agreed on, so identical snapshots from
// different replicas collapse into the same object and a Put is naturally
// idempotent.
type Store struct {
	client *s3.Client
	bucket string
}

// NewStore creates a Store bound to the client's configured bucket.
func NewStore(c *Client) *Store {
	return &Store{client: c.S3(), bucket: c.Bucket()}
}

func ledgerKey(hash string) string {
	return path.Join(ledgerPrefix, hash+".json")
}

// Put uploads one snapshot under its content hash. The multipart uploader
// splits large snapshots transparently; small ones go up in a single part.
func (s *Store) Put(ctx context.Context, hash string, data []byte) error {
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(ledgerKey(hash)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put snapshot %s: %w", hash, err)
	}
	return nil
}

// Get downloads the snapshot stored under the given content hash. A missing
// object is domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ledgerKey(hash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("s3blob: snapshot %s: %w", hash, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get snapshot %s: %w", hash, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read snapshot %s: %w", hash, err)
	}
	return data, nil
}

// List returns the hashes of every stored snapshot.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var hashes []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(ledgerPrefix + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := path.Base(*obj.Key)
			hashes = append(hashes, name[:len(name)-len(".json")])
		}
	}
	return hashes, nil
}
