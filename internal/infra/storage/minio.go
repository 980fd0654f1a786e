package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Store archives report documents as JSON objects.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	// PresignTTL > 0 makes Archive return a presigned GET URL instead of a
	// plain object URL.
	PresignTTL time.Duration
}

// New connects to MinIO and creates the bucket when it is missing.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// ObjectKey is reports/<yyyy>/<mm>/<dd>/<id>.json, dated by completion.
func ObjectKey(r *analysis.AggregatedReport) string {
	t := r.CompletedAt
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return fmt.Sprintf("reports/%04d/%02d/%02d/%s.json", t.Year(), int(t.Month()), t.Day(), r.ID)
}

// Archive implements analysis.ReportArchive.
func (s *Store) Archive(ctx context.Context, r *analysis.AggregatedReport) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	key := ObjectKey(r)
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"report-id":      r.ID,
			"primary-target": r.PrimaryTarget(),
			"overall-status": string(r.OverallStatus),
		},
	})
	if err != nil {
		return "", err
	}

	if s.PresignTTL > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.PresignTTL, nil)
		if err != nil {
			return "", err
		}
		return u.String(), nil
	}
	// URL publik (jika bucket public)
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL().String(), s.bucketName, key), nil
}

// Load reads an archived report back by object key.
func (s *Store) Load(ctx context.Context, key string) (*analysis.AggregatedReport, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, analysis.ErrNotFound
		}
		return nil, err
	}
	var r analysis.AggregatedReport
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
