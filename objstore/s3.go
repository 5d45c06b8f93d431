// Package objstore deletes table data from S3 by key prefix.
//
// Dropping a catalog table never touches its backing files, so rebuilds
// purge the storage prefix explicitly. Deleting by prefix is the single
// most dangerous operation in this codebase: a prefix one character too
// short silently destroys sibling tables. Every delete therefore passes
// a safe-word check first.
package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// deleteBatchSize is the S3 DeleteObjects per-request limit.
const deleteBatchSize = 1000

// ErrUnsafeDelete reports a delete target that failed the safe-word check.
type ErrUnsafeDelete struct {
	Key      string
	SafeWord string
}

func (e *ErrUnsafeDelete) Error() string {
	return fmt.Sprintf("unexpected S3 delete path: %s (safe word %q)", e.Key, e.SafeWord)
}

// Object is the metadata kept for each listed key.
type Object struct {
	Key  string
	Size int64
}

// API is the slice of the S3 client the bucket uses.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Bucket wraps one S3 bucket with prefix-oriented list/delete helpers.
type Bucket struct {
	client API
	name   string
	logger *slog.Logger
}

// NewBucket creates a Bucket over the given client.
func NewBucket(client API, name string) *Bucket {
	return &Bucket{
		client: client,
		name:   name,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the bucket.
func (b *Bucket) WithLogger(l *slog.Logger) *Bucket {
	tmp := *b
	tmp.logger = l
	return &tmp
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// List returns all objects whose key starts with prefix, following
// pagination.
func (b *Bucket) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", b.name, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// Delete removes the given keys in batches of 1000. Before anything is
// deleted, every key is checked against safeWord: a key that does not
// contain it aborts the whole call.
func (b *Bucket) Delete(ctx context.Context, keys []string, safeWord string) error {
	if err := CheckKeys(keys, safeWord); err != nil {
		return err
	}
	for _, batch := range chunkKeys(keys, deleteBatchSize) {
		identifiers := make([]s3types.ObjectIdentifier, len(batch))
		for i, key := range batch {
			identifiers[i] = s3types.ObjectIdentifier{Key: aws.String(key)}
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.name),
			Delete: &s3types.Delete{Objects: identifiers},
		})
		if err != nil {
			return fmt.Errorf("failed to delete %d object(s) from s3://%s: %w", len(batch), b.name, err)
		}
	}
	return nil
}

// DeletePrefix lists and deletes everything under prefix. The prefix
// itself is the safe word, so only keys inside it can ever be removed.
func (b *Bucket) DeletePrefix(ctx context.Context, prefix string) error {
	objects, err := b.List(ctx, prefix)
	if err != nil {
		return err
	}

	var size int64
	keys := make([]string, len(objects))
	for i, obj := range objects {
		keys[i] = obj.Key
		size += obj.Size
	}
	b.logger.Debug("deleting S3 data",
		"bucket", b.name, "prefix", prefix, "objects", len(keys), "mib", float64(size)/1024/1024)

	return b.Delete(ctx, keys, prefix)
}

// Put writes body as the object at key.
func (b *Bucket) Put(ctx context.Context, key string, body []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   strings.NewReader(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", b.name, key, err)
	}
	return nil
}

// CheckKeys verifies every key contains safeWord, returning
// *ErrUnsafeDelete for the first offender.
func CheckKeys(keys []string, safeWord string) error {
	for _, key := range keys {
		if !strings.Contains(key, safeWord) {
			return &ErrUnsafeDelete{Key: key, SafeWord: safeWord}
		}
	}
	return nil
}

// ParseLocation splits an s3://bucket/key/ URI into bucket and key.
func ParseLocation(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an S3 location: %q", location)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("S3 location %q has no bucket", location)
	}
	return bucket, key, nil
}

func chunkKeys(keys []string, n int) [][]string {
	var chunks [][]string
	for i := 0; i < len(keys); i += n {
		end := i + n
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}
