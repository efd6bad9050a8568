// Package storage archives maintenance reports in an S3 compatible object store.
package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/options"
)

var _ core.MaintenanceArchive = (*MinIO)(nil)

const reportPrefix = "maintenance"

type MinIO struct {
	client     *minio.Client
	bucketName string
}

// NewMinIO creates the archive. No request is sent until first use.
func NewMinIO(opts *options.S3Options) (*MinIO, error) {
	// Self-signed certificates are common on lot gateways.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	minioOpts := &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIO{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

// CheckBucket creates the bucket when it does not exist.
func (p *MinIO) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// ObjectKey returns the object name of a report: maintenance/{vehicle}/{id}.json
func ObjectKey(r *model.MaintenanceReport) string {
	return path.Join(reportPrefix, r.VehicleID, r.ID+".json")
}

// Archive stores r as a JSON object.
func (p *MinIO) Archive(ctx context.Context, r *model.MaintenanceReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.ID, err)
	}

	key := ObjectKey(r)
	info, err := p.client.PutObject(ctx, p.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"vehicle": r.VehicleID,
			"source":  string(r.Source),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive report %s: %w", r.ID, err)
	}

	log.Debug("Maintenance report archived", "key", key, "etag", info.ETag)
	return nil
}

// ReportURL returns a presigned download URL of an archived report.
func (p *MinIO) ReportURL(ctx context.Context, r *model.MaintenanceReport, expiry time.Duration) (string, error) {
	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", r.ID+".json"))

	presignedURL, err := p.client.PresignedGetObject(ctx, p.bucketName, ObjectKey(r), expiry, reqParams)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return presignedURL.String(), nil
}
