// Package proofs stores transfer receipts uploaded for manual-payment
// orders in an S3-compatible bucket.
package proofs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"AGEPayments/internal/models"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const MaxSize = 10 << 20

var (
	ErrNotConfigured   = errors.New("proof storage not configured")
	ErrUnsupportedType = errors.New("unsupported proof content type")
	ErrTooLarge        = errors.New("proof file too large")
)

var allowedTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"application/pdf": ".pdf",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ProofStore is the slice of the order store uploads need.
type ProofStore interface {
	AddProof(ctx context.Context, p *models.PaymentProof) error
	ListProofs(ctx context.Context, orderID string) ([]models.PaymentProof, error)
}

// Objects is the part of the minio client used here.
type Objects interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expiry time.Duration, params url.Values) (*url.URL, error)
}

type Storage struct {
	objects Objects
	bucket  string
	records ProofStore
	now     func() time.Time
}

// NewMinio connects to the bucket, creating it on first start.
func NewMinio(ctx context.Context, cfg Config, records ProofStore) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if err := EnsureBucket(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", cfg.Bucket, err)
	}
	return New(client, cfg.Bucket, records), nil
}

func New(objects Objects, bucket string, records ProofStore) *Storage {
	return &Storage{objects: objects, bucket: bucket, records: records, now: time.Now}
}

func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	ok, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
}

// Upload stores one receipt under proofs/<order>/<uuid><ext> and records it
// against the order.
func (s *Storage) Upload(ctx context.Context, orderID string, r io.Reader, size int64, contentType string) (*models.PaymentProof, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	ext, ok := allowedTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	key := path.Join("proofs", orderID, uuid.NewString()+ext)
	if _, err := s.objects.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	proof := &models.PaymentProof{
		OrderID:     orderID,
		ObjectKey:   key,
		ContentType: contentType,
		Size:        size,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.records.AddProof(ctx, proof); err != nil {
		return nil, err
	}
	return proof, nil
}

type Link struct {
	Proof models.PaymentProof
	URL   string
}

// Links returns presigned download URLs for an order's proofs.
func (s *Storage) Links(ctx context.Context, orderID string, expiry time.Duration) ([]Link, error) {
	proofs, err := s.records.ListProofs(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(proofs))
	for _, p := range proofs {
		u, err := s.objects.PresignedGetObject(ctx, s.bucket, p.ObjectKey, expiry, nil)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", p.ObjectKey, err)
		}
		out = append(out, Link{Proof: p, URL: u.String()})
	}
	return out, nil
}
