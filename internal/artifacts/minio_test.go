package artifacts

import (
	"context"
	"errors"
	"os"
	"testing"

	"grantsmith/api/internal/export"
)

func TestObjectKey(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		want     string
	}{
		{name: "pdf", filename: "township-skills.pdf", want: "proposals/prop_1/abc123.pdf"},
		{name: "docx", filename: "township-skills.docx", want: "proposals/prop_1/abc123.docx"},
		{name: "no extension", filename: "proposal", want: "proposals/prop_1/abc123.bin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ObjectKey("prop_1", &export.Result{Filename: tc.filename, ETag: "abc123"})
			if err != nil {
				t.Fatalf("ObjectKey() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("ObjectKey() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestObjectKeyRequiresETag(t *testing.T) {
	if _, err := ObjectKey("prop_1", &export.Result{Filename: "x.pdf"}); !errors.Is(err, ErrMissingETag) {
		t.Fatalf("expected ErrMissingETag, got %v", err)
	}
	if _, err := ObjectKey("prop_1", nil); !errors.Is(err, ErrMissingETag) {
		t.Fatalf("expected ErrMissingETag for nil result, got %v", err)
	}
}

func TestNewMinioStoreRequiresEndpoint(t *testing.T) {
	if _, err := NewMinioStore(context.Background(), Config{Bucket: "exports"}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}

func TestUploadMinio(t *testing.T) {
	endpoint := os.Getenv("GRANTSMITH_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("GRANTSMITH_TEST_MINIO_ENDPOINT is not set")
	}
	ctx := context.Background()
	s, err := NewMinioStore(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("GRANTSMITH_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("GRANTSMITH_TEST_MINIO_SECRET_KEY"),
		Bucket:    "grantsmith-test",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}

	result := &export.Result{Data: []byte("<html></html>"), Filename: "p.html", MimeType: "text/html", ETag: "deadbeef"}
	first, err := s.Upload(ctx, "prop_1", result)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	second, err := s.Upload(ctx, "prop_1", result)
	if err != nil {
		t.Fatalf("Upload() repeat error = %v", err)
	}
	if first.Key != second.Key || !second.Existing {
		t.Fatalf("expected second upload to reuse the object: %+v %+v", first, second)
	}
}
