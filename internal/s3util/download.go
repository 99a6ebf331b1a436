// Package s3util holds the S3 helpers shared by the CLI and the Lambda:
// fetching an image batch by prefix and archiving failure diagnostics.
package s3util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// API is the subset of *s3.Client used here.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// DownloadToFile downloads an S3 object to a specific local path.
func DownloadToFile(ctx context.Context, client API, bucket, key, localPath string) error {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket, Key: &key,
	})
	if err != nil {
		return fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, result.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}

// DownloadPrefix downloads every object under prefix whose base name is
// accepted by keep into dir, flattening the key to its base name. It
// returns the local paths, sorted.
func DownloadPrefix(ctx context.Context, client API, bucket, prefix, dir string, keep func(name string) bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	var paths []string
	p := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
		Prefix: &prefix,
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := path.Base(*obj.Key)
			if keep != nil && !keep(name) {
				continue
			}
			local := filepath.Join(dir, name)
			if err := DownloadToFile(ctx, client, bucket, *obj.Key, local); err != nil {
				return nil, err
			}
			paths = append(paths, local)
		}
	}
	sort.Strings(paths)

	log.Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("files", len(paths)).
		Msg("Batch downloaded from S3")
	return paths, nil
}
