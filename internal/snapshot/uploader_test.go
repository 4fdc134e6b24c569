package snapshot

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/hyperengineering/simplesync/internal/config"
)

func TestNoopUploader(t *testing.T) {
	u := NoopUploader{}
	if err := u.Upload(context.Background(), "store-1", "/some/path"); err != nil {
		t.Errorf("Upload() should not error, got %v", err)
	}
	if _, _, err := u.PresignedURL(context.Background(), "store-1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("PresignedURL() error = %v, want ErrNotConfigured", err)
	}
}

func TestNewUploader_EmptyBucket_ReturnsNoop(t *testing.T) {
	u, err := NewUploader(config.SnapshotConfig{})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}
	if _, ok := u.(NoopUploader); !ok {
		t.Errorf("expected NoopUploader, got %T", u)
	}
}

func TestNewUploader_WithBucket_ReturnsS3Uploader(t *testing.T) {
	u, err := NewUploader(config.SnapshotConfig{
		Bucket:    "test-bucket",
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("NewUploader() error = %v", err)
	}

	s3u, ok := u.(*S3Uploader)
	if !ok {
		t.Fatalf("expected *S3Uploader, got %T", u)
	}
	if s3u.bucket != "test-bucket" {
		t.Errorf("bucket = %q, want %q", s3u.bucket, "test-bucket")
	}
	if s3u.urlExpiry != 15*time.Minute {
		t.Errorf("urlExpiry = %v, want default 15m", s3u.urlExpiry)
	}
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	uploadErr      error
	presignErr     error
	lastBucket     string
	lastObjectName string
	lastFilePath   string
	lastExpiry     time.Duration
}

func (m *mockS3Client) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	m.lastBucket = bucket
	m.lastObjectName = objectName
	m.lastFilePath = filePath
	return m.uploadErr
}

func (m *mockS3Client) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	m.lastBucket = bucket
	m.lastObjectName = objectName
	m.lastExpiry = expiry
	if m.presignErr != nil {
		return nil, m.presignErr
	}
	return url.Parse("https://s3.example.com/" + bucket + "/" + objectName + "?presigned=true")
}

func newTestUploader(m *mockS3Client) *S3Uploader {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &S3Uploader{
		client:    m,
		bucket:    "snapshots",
		urlExpiry: 10 * time.Minute,
		now:       func() time.Time { return fixed },
	}
}

func TestS3Uploader_Upload(t *testing.T) {
	m := &mockS3Client{}
	u := newTestUploader(m)

	if err := u.Upload(context.Background(), "org/team", "/tmp/current.db"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if m.lastBucket != "snapshots" || m.lastObjectName != "org/team/snapshot/current.db" || m.lastFilePath != "/tmp/current.db" {
		t.Errorf("uploaded %s/%s from %s", m.lastBucket, m.lastObjectName, m.lastFilePath)
	}

	m.uploadErr = errors.New("network down")
	if err := u.Upload(context.Background(), "org/team", "/tmp/current.db"); err == nil {
		t.Error("Upload() should surface client errors")
	}
}

func TestS3Uploader_PresignedURL(t *testing.T) {
	m := &mockS3Client{}
	u := newTestUploader(m)

	got, expiry, err := u.PresignedURL(context.Background(), "team")
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	if got != "https://s3.example.com/snapshots/team/snapshot/current.db?presigned=true" {
		t.Errorf("url = %q", got)
	}
	if want := u.now().Add(10 * time.Minute); !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}
	if m.lastExpiry != 10*time.Minute {
		t.Errorf("presign expiry = %v", m.lastExpiry)
	}

	m.presignErr = errors.New("denied")
	if _, _, err := u.PresignedURL(context.Background(), "team"); err == nil {
		t.Error("PresignedURL() should surface client errors")
	}
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantHost string
		wantSSL  bool
	}{
		{"bare host", "s3.example.com", "s3.example.com", true},
		{"bare host:port", "minio:9000", "minio:9000", true},
		{"https URL", "https://s3.example.com", "s3.example.com", true},
		{"http URL", "http://minio:9000", "minio:9000", false},
		{"http with port", "http://localhost:9000", "localhost:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ssl := true
			got := stripScheme(tt.endpoint, &ssl)
			if got != tt.wantHost {
				t.Errorf("stripScheme(%q) host = %q, want %q", tt.endpoint, got, tt.wantHost)
			}
			if ssl != tt.wantSSL {
				t.Errorf("stripScheme(%q) ssl = %v, want %v", tt.endpoint, ssl, tt.wantSSL)
			}
		})
	}
}
