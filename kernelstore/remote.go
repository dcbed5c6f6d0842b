// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelstore // import "github.com/opencl-tools/clelf/kernelstore"

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/sha256-simd"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/metrics"
)

const (
	// defaultKeyPrefix defines the prefix prepended to all S3 keys.
	defaultKeyPrefix = "kernel-store/"
	// s3ResultsPerPage defines how many results to request per page when listing objects.
	s3ResultsPerPage = 1000
	// s3MaxPages defines the maximum number of pages to ever retrieve when listing objects.
	s3MaxPages = 16
)

// ErrNoRemote is returned by remote operations on stores without a remote.
var ErrNoRemote = errors.New("store has no remote configured")

// RemoteOptions select the S3 bucket backing a store. Credentials are taken
// from the default AWS configuration chain.
type RemoteOptions struct {
	Bucket string
	// Region and Endpoint override the configured region and endpoint, for
	// S3 compatible object stores.
	Region   string
	Endpoint string
	// PathStyle selects path-style bucket addressing.
	PathStyle bool
	// KeyPrefix is prepended to all object keys. Defaults to "kernel-store/".
	KeyPrefix string
}

// s3API is the subset of the S3 client used by the store.
type s3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput,
		optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// s3Client returns the S3 client, creating it on first use.
func (store *Store) s3Client(ctx context.Context) (s3API, error) {
	if store.remote == nil {
		return nil, ErrNoRemote
	}
	client, err := store.client.GetOrInit(func() (s3API, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			if store.remote.Region != "" {
				o.Region = store.remote.Region
			}
			if store.remote.Endpoint != "" {
				o.BaseEndpoint = aws.String(store.remote.Endpoint)
			}
			o.UsePathStyle = store.remote.PathStyle
		}), nil
	})
	if err != nil {
		return nil, err
	}
	return *client, nil
}

func (store *Store) keyPrefix() string {
	if store.remote != nil && store.remote.KeyPrefix != "" {
		return store.remote.KeyPrefix
	}
	return defaultKeyPrefix
}

// makeS3Key creates the S3 key for the given binary.
func (store *Store) makeS3Key(id ID) string {
	return store.keyPrefix() + id.String()
}

// Upload uploads a binary from the local storage to the remote. If the binary is already
// present, no operation is performed.
func (store *Store) Upload(ctx context.Context, id ID) error {
	client, err := store.s3Client(ctx)
	if err != nil {
		return err
	}
	present, err := store.IsPresentRemotely(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check whether the binary exists on remote: %w", err)
	}
	if present {
		return nil
	}

	localPath := store.makeLocalPath(id)
	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("the given binary `%v` isn't present locally", id)
		}
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("failed to hash content of %q: %w", localPath, err)
	}
	contentSHA256 := base64.StdEncoding.EncodeToString(hasher.Sum(nil))

	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to set position in file %q: %w", localPath, err)
	}

	key := store.makeS3Key(id)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             &store.remote.Bucket,
		Key:                &key,
		Body:               file,
		ContentType:        aws.String("application/octet-stream"),
		ContentDisposition: aws.String("attachment"),
		ChecksumSHA256:     &contentSHA256,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	metrics.Add(metrics.IDStoreUploads, 1)

	return nil
}

// IsPresentRemotely checks whether a binary is present in the remote data-store.
func (store *Store) IsPresentRemotely(ctx context.Context, id ID) (bool, error) {
	client, err := store.s3Client(ctx)
	if err != nil {
		return false, err
	}
	key := store.makeS3Key(id)
	_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &store.remote.Bucket,
		Key:    &key,
	})
	if err != nil {
		if isErrNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query binary existence: %w", err)
	}

	return true, nil
}

// RemoveRemote removes a binary from the remote storage. No-op if not present.
func (store *Store) RemoveRemote(ctx context.Context, id ID) error {
	client, err := store.s3Client(ctx)
	if err != nil {
		return err
	}
	key := store.makeS3Key(id)
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &store.remote.Bucket,
		Key:    &key,
	})
	if err != nil && !isErrNoSuchKey(err) {
		return fmt.Errorf("failed to delete file from remote: %w", err)
	}
	return nil
}

// ListRemote creates a map of all binaries present in the remote storage and their date
// of last change.
func (store *Store) ListRemote(ctx context.Context) (map[ID]time.Time, error) {
	client, err := store.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	prefix := store.keyPrefix()
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket:  &store.remote.Bucket,
		Prefix:  &prefix,
		MaxKeys: aws.Int32(s3ResultsPerPage),
	})

	binaries := map[ID]time.Time{}
	for pages := 0; paginator.HasMorePages(); pages++ {
		if pages == s3MaxPages {
			return nil, errors.New("too many matching items in bucket")
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve object list: %w", err)
		}
		for _, object := range page.Contents {
			if object.Key == nil || object.LastModified == nil {
				return nil, errors.New("s3 object lacks required field")
			}
			id, err := IDFromString(strings.TrimPrefix(*object.Key, prefix))
			if err != nil {
				return nil, fmt.Errorf("failed to parse hash in S3 filename: %w", err)
			}
			binaries[id] = *object.LastModified
		}
	}

	return binaries, nil
}

// ensurePresentLocally makes sure a binary is present locally, downloading it from the
// remote storage if required. On success, it returns the path to the compressed file in the
// local storage.
func (store *Store) ensurePresentLocally(id ID) (string, error) {
	localPath := store.makeLocalPath(id)
	present, err := store.IsPresentLocally(id)
	if err != nil {
		return "", err
	}
	if present {
		return localPath, nil
	}
	if store.remote == nil {
		return "", fmt.Errorf("binary %v: %w", id, os.ErrNotExist)
	}

	ctx := context.Background()
	client, err := store.s3Client(ctx)
	if err != nil {
		return "", err
	}
	key := store.makeS3Key(id)
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &store.remote.Bucket,
		Key:    &key,
	})
	if err != nil {
		if isErrNoSuchKey(err) {
			return "", fmt.Errorf("binary %v: %w", id, os.ErrNotExist)
		}
		return "", fmt.Errorf("failed to request file: %w", err)
	}
	defer resp.Body.Close()

	// Download the file to a temporary location to prevent half-complete binaries on crashes.
	file, err := os.CreateTemp(store.localCachePath, localTempPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()
	if _, err = io.Copy(file, resp.Body); err != nil {
		_ = os.Remove(file.Name())
		return "", fmt.Errorf("failed to receive file: %w", err)
	}

	if err = commitTempFile(file, localPath); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	metrics.Add(metrics.IDStoreDownloads, 1)
	log.Debugf("Downloaded binary %v", id)

	return localPath, nil
}

// isErrNoSuchKey checks whether the given AWS error indicates that the given key does not exist.
func isErrNoSuchKey(err error) bool {
	// The Go client inspects the HTTP status code of HeadObject and turns the 404 into
	// "NotFound" without exposing the error code sent by the API, so both are accepted.
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
