// Package objectstore implements a [sink.Sink] that uploads every segment as
// a WAV object to S3-compatible storage.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/MrWong99/voxseg/internal/sink"
	"github.com/MrWong99/voxseg/pkg/audio"
	"github.com/MrWong99/voxseg/pkg/pipeline"
)

// Client is the subset of the MinIO client used by [Sink]. *minio.Client
// satisfies it.
type Client interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// Config configures a [Sink].
type Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Validate reports missing required fields.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("objectstore: endpoint is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("objectstore: bucket is required"))
	}
	return errors.Join(errs...)
}

// Sink uploads segments to <prefix>/<yyyy-mm-dd>/<stream>/<id>.wav.
type Sink struct {
	client Client
	cfg    Config
	now    func() time.Time
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)

// Option configures a [Sink].
type Option func(*Sink)

// WithClock replaces time.Now when building object keys.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// New returns a sink uploading through client. It does not touch the bucket.
func New(client Client, cfg Config, opts ...Option) *Sink {
	s := &Sink{client: client, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to the endpoint in cfg and creates the bucket if it does not
// exist yet.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create client: %w", err)
	}
	s := New(client, cfg, opts...)
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureBucket creates the configured bucket when it is missing.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("objectstore: check bucket %q: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("objectstore: create bucket %q: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Name implements [sink.Sink].
func (s *Sink) Name() string { return "objectstore" }

// Key returns the object key of seg for stream.
func (s *Sink) Key(stream string, seg pipeline.Segment) string {
	return path.Join(s.cfg.Prefix, s.now().UTC().Format("2006-01-02"), stream, seg.ID+".wav")
}

// Write implements [sink.Sink].
func (s *Sink) Write(ctx context.Context, seg pipeline.Segment) error {
	if seg.PCM == nil {
		return sink.ErrNoAudio
	}
	data, err := audio.WAVBytes(seg.PCM, audio.Format{SampleRate: seg.SampleRate, Channels: seg.Channels})
	if err != nil {
		return fmt.Errorf("objectstore: %w", err)
	}
	stream := sink.StreamFromContext(ctx)
	key := s.Key(stream, seg)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "audio/wav",
		UserMetadata: map[string]string{
			"segment-id":  seg.ID,
			"stream-id":   stream,
			"start-ms":    strconv.FormatInt(seg.Start.Milliseconds(), 10),
			"end-ms":      strconv.FormatInt(seg.End.Milliseconds(), 10),
			"sample-rate": strconv.Itoa(seg.SampleRate),
			"channels":    strconv.Itoa(seg.Channels),
		},
	})
	if err != nil {
		return fmt.Errorf("objectstore: upload %s: %w", key, err)
	}
	return nil
}

// Ping reports whether the bucket is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("objectstore: ping: %w", err)
	}
	if !exists {
		return fmt.Errorf("objectstore: bucket %q does not exist", s.cfg.Bucket)
	}
	return nil
}

// Close implements [sink.Sink].
func (s *Sink) Close() error { return nil }
