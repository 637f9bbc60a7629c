// Package backup exports catalog and circulation snapshots to S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/config"
	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/pkg/crypto"
	"github.com/prn-tf/alexander-library/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotVersion is bumped when the snapshot layout changes.
const SnapshotVersion = 1

const (
	metaSHA256  = "sha256"
	metaBooks   = "books"
	metaIssues  = "issues"
	metaVersion = "snapshot-version"
)

var (
	// ErrNotConfigured is returned when no bucket is set.
	ErrNotConfigured = errors.New("backup bucket is not configured")

	// ErrChecksumMismatch is returned when a stored snapshot does not match its recorded digest.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// ObjectStore is the subset of the S3 client used here.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Snapshot is the document written to the bucket.
type Snapshot struct {
	Version   int                   `json:"version"`
	CreatedAt time.Time             `json:"createdAt"`
	Books     []*domain.Book        `json:"books"`
	Issues    []*domain.IssueRecord `json:"issues"`
}

// Result describes an uploaded snapshot.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Books  int    `json:"books"`
	Issues int    `json:"issues"`
}

// Exporter reads the store and uploads snapshots.
type Exporter struct {
	client ObjectStore
	bucket string
	prefix string
	store  repository.SnapshotReader
	logger zerolog.Logger
	now    func() time.Time
}

// NewExporter creates a new Exporter.
func NewExporter(
	client ObjectStore,
	bucket, prefix string,
	store repository.SnapshotReader,
	logger zerolog.Logger,
) *Exporter {
	return &Exporter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		store:  store,
		logger: logger.With().Str("component", "backup").Logger(),
		now:    time.Now,
	}
}

// NewS3Client builds an S3 client from BackupConfig.
// A custom endpoint and static credentials are used when set; otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, cfg config.BackupConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// SnapshotKey returns the object key for a snapshot taken at t.
func SnapshotKey(prefix string, t time.Time) string {
	return path.Join(prefix, "snapshots", t.UTC().Format("20060102T150405Z")+".json")
}

// Build reads every book and issue record into a snapshot from one read transaction.
func (e *Exporter) Build(ctx context.Context) (*Snapshot, error) {
	books, issues, err := e.store.ReadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if books == nil {
		books = []*domain.Book{}
	}
	if issues == nil {
		issues = []*domain.IssueRecord{}
	}

	return &Snapshot{
		Version:   SnapshotVersion,
		CreatedAt: e.now().UTC(),
		Books:     books,
		Issues:    issues,
	}, nil
}

// Export builds a snapshot and uploads it.
// The SHA-256 of the body is stored in object metadata for Verify.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	if e.bucket == "" {
		return nil, ErrNotConfigured
	}

	snap, err := e.Build(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	result := &Result{
		Bucket: e.bucket,
		Key:    SnapshotKey(e.prefix, snap.CreatedAt),
		SHA256: crypto.ComputeSHA256(body),
		Size:   int64(len(body)),
		Books:  len(snap.Books),
		Issues: len(snap.Issues),
	}

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(result.Key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(result.Size),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			metaSHA256:  result.SHA256,
			metaBooks:   strconv.Itoa(result.Books),
			metaIssues:  strconv.Itoa(result.Issues),
			metaVersion: strconv.Itoa(SnapshotVersion),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}

	e.logger.Info().
		Str("bucket", result.Bucket).
		Str("key", result.Key).
		Str("sha256", result.SHA256).
		Int("books", result.Books).
		Int("issues", result.Issues).
		Msg("snapshot exported")

	return result, nil
}

// Verify downloads a snapshot and checks it against its recorded SHA-256.
func (e *Exporter) Verify(ctx context.Context, key string) (*Snapshot, error) {
	if e.bucket == "" {
		return nil, ErrNotConfigured
	}

	out, err := e.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer out.Body.Close()

	want := out.Metadata[metaSHA256]
	if !crypto.ValidateSHA256(want) {
		return nil, fmt.Errorf("%w: missing or malformed digest on %s", ErrChecksumMismatch, key)
	}

	var buf bytes.Buffer
	got, _, err := crypto.ComputeStreamSHA256(io.TeeReader(out.Body, &buf))
	if err != nil {
		return nil, err
	}
	if got != want {
		return nil, fmt.Errorf("%w: %s has %s, expected %s", ErrChecksumMismatch, key, got, want)
	}

	var snap Snapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
