// Package artifact implements the artifact stager (spec §4.6): it composes
// a per-job object key, writes a descriptor of the staged download to
// object storage, and requests a presigned GET URL for it. The object-key
// composition (`newS3Client`, `sanitizeKey`) is carried over from the
// teacher's `internal/worker/image_handler.go`, whose job was to upload a
// transformed image to S3 under a caller-controlled key; here the same
// traversal-safe key construction stages a JSON descriptor instead, since
// spec §1 disclaims any real byte transfer or transformation of file
// payloads.
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"distributed-download-service/internal/job"
)

// transientError wraps a retryable failure (spec §4.6/§7 — storage
// reachability, timeouts, 5xx).
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// permanentError wraps a non-retryable failure (malformed inputs, 4xx).
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Transient wraps err as a retryable stager failure.
func Transient(err error) error { return transientError{err: err} }

// Permanent wraps err as a non-retryable stager failure.
func Permanent(err error) error { return permanentError{err: err} }

// IsTransient reports whether err (or anything it wraps) was classified
// transient by the stager.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err (or anything it wraps) was classified
// permanent by the stager.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Storage is the capability the stager requires from object storage (spec
// §6 "consumed by the core").
type Storage interface {
	PutDescriptor(ctx context.Context, key string, body []byte) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (url string, expiresAt time.Time, err error)
	HealthCheck(ctx context.Context) error
}

// Stager implements spec §4.6.
type Stager struct {
	storage Storage
	urlTTL  time.Duration
}

// New builds a Stager backed by storage, presigning URLs with the given TTL
// (spec §6 config `artifactUrlTtl`, default 15m).
func New(storage Storage, urlTTL time.Duration) *Stager {
	return &Stager{storage: storage, urlTTL: urlTTL}
}

type descriptor struct {
	JobID    string  `json:"job_id"`
	UserID   string  `json:"user_id"`
	FileIDs  []int64 `json:"file_ids"`
	StagedAt string  `json:"staged_at"`
}

// Stage writes a descriptor for j and returns a presigned URL, or a
// transient/permanent error per spec §4.6.
func (s *Stager) Stage(ctx context.Context, j job.Job, now time.Time) (job.Result, error) {
	key, err := composeKey(j.UserID, j.JobID)
	if err != nil {
		return job.Result{}, Permanent(fmt.Errorf("compose object key: %w", err))
	}

	desc := descriptor{
		JobID:    j.JobID,
		UserID:   j.UserID,
		FileIDs:  j.FileIDs,
		StagedAt: now.UTC().Format(time.RFC3339Nano),
	}
	body, err := json.Marshal(desc)
	if err != nil {
		return job.Result{}, Permanent(fmt.Errorf("marshal descriptor: %w", err))
	}

	if err := s.storage.PutDescriptor(ctx, key, body); err != nil {
		return job.Result{}, err // already classified by the Storage implementation
	}

	url, expiresAt, err := s.storage.PresignGet(ctx, key, s.urlTTL)
	if err != nil {
		return job.Result{}, err
	}

	sum := sha256.Sum256(body)
	return job.Result{
		URL:          url,
		Checksum:     hex.EncodeToString(sum[:]),
		Size:         int64(len(body)),
		URLExpiresAt: expiresAt,
	}, nil
}

// composeKey namespaces an object key by user and job so that it cannot
// escape the namespace via path traversal (spec §4.6 "no path traversal"):
// "/" and ".." in userID are replaced with "_", the joined path is cleaned,
// and a key that still contains ".." is rejected with an error.
func composeKey(userID, jobID string) (string, error) {
	if jobID == "" {
		return "", errors.New("jobID is required")
	}
	user := sanitizeSegment(userID)
	if user == "" {
		user = "anonymous"
	}
	key := sanitizeKey(filepath.ToSlash(filepath.Join(user, jobID+".json")))
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key composed from userID=%q jobID=%q", userID, jobID)
	}
	return key, nil
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}

// sanitizeKey is carried over from the teacher's image_handler.go: it
// cleans a path and strips a leading separator or "./". Leading ".."
// segments survive it; composeKey rejects keys that still contain "..".
func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

// S3Storage is the production Storage backed by aws-sdk-go-v2, adapted from
// the teacher's newS3Client/s3Uploader (image_handler.go).
type S3Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// S3Config mirrors the fields the teacher's image handler read off
// config.Config for constructing an S3 client (region, custom endpoint,
// path-style addressing for S3-compatible stores like MinIO in tests).
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// NewS3Storage constructs the production storage client.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *S3Storage) PutDescriptor(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err == nil {
		return nil
	}
	return classifyS3Error(err)
}

func (s *S3Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, classifyS3Error(err)
	}
	return out.URL, time.Now().Add(ttl), nil
}

func (s *S3Storage) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return classifyS3Error(err)
	}
	return nil
}

// classifyS3Error maps an AWS SDK error to the stager's transient/permanent
// taxonomy (spec §4.6: "unreachable storage or 5xx -> transient, malformed
// inputs -> permanent").
func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "AccessDenied", "InvalidArgument", "InvalidRequest":
			return Permanent(err)
		default:
			return Transient(err)
		}
	}
	// Network errors, timeouts, context deadline: treat as transient.
	return Transient(err)
}
