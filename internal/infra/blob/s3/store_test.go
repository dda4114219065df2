package s3

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"dartcore/internal/blob/core"
)

func TestMockLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	if store.Driver() != core.DriverS3 {
		t.Fatalf("driver = %s", store.Driver())
	}

	content := []byte("AlleleID,ind1\n100001|F|0,1\n")
	info, err := store.Put(ctx, "reports/run1.csv", bytes.NewReader(content), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", info.Size, len(content))
	}
	if _, err := store.Put(ctx, "reports/run1.csv", bytes.NewReader(content), core.PutOptions{}); err == nil {
		t.Fatalf("expected create-only violation")
	}

	got, rc, err := store.Get(ctx, "reports/run1.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, content) {
		t.Fatalf("body mismatch: %q", body)
	}
	if got.ContentType != "text/csv" {
		t.Fatalf("content type = %q", got.ContentType)
	}

	if _, err := store.Head(ctx, "reports/absent.csv"); err == nil {
		t.Fatalf("Head of missing object should fail")
	}

	infos, err := store.List(ctx, "reports/")
	if err != nil || len(infos) != 1 || infos[0].Key != "reports/run1.csv" {
		t.Fatalf("List: %v %+v", err, infos)
	}

	if existed, err := store.Delete(ctx, "reports/run1.csv"); err != nil || !existed {
		t.Fatalf("Delete: %v existed=%v", err, existed)
	}
	if _, err := store.Head(ctx, "reports/run1.csv"); err == nil {
		t.Fatalf("object survived delete")
	}
}

func TestMockPresignURL(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	url, err := store.PresignURL(ctx, "reports/run1.csv", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("PresignURL: %v", err)
	}
	if !strings.Contains(url, "reports/run1.csv") || !strings.Contains(url, "X-Amz-Signature") {
		t.Fatalf("unexpected presigned url %q", url)
	}
	if _, err := store.PresignURL(ctx, "reports/run1.csv", core.SignedURLOptions{Method: "PUT"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket requirement error")
	}
}
