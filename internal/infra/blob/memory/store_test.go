package memory

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"dartcore/internal/blob/core"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	store := New()

	info, err := store.Put(ctx, "exports/matrix.csv", strings.NewReader("id,pop\n"), core.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Size != 7 {
		t.Fatalf("size = %d", info.Size)
	}
	if _, err := store.Put(ctx, "exports/matrix.csv", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate key error")
	}

	got, rc, err := store.Get(ctx, "exports/matrix.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, []byte("id,pop\n")) || got.ContentType != "text/csv" {
		t.Fatalf("unexpected get: %q %+v", body, got)
	}

	if _, err := store.Head(ctx, "missing"); err == nil {
		t.Fatalf("Head of missing key should fail")
	}

	infos, err := store.List(ctx, "exports/")
	if err != nil || len(infos) != 1 {
		t.Fatalf("List: %v %+v", err, infos)
	}

	existed, err := store.Delete(ctx, "exports/matrix.csv")
	if err != nil || !existed {
		t.Fatalf("Delete: %v existed=%v", err, existed)
	}
	if existed, _ := store.Delete(ctx, "exports/matrix.csv"); existed {
		t.Fatalf("delete of missing key reported existence")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", strings.NewReader("original"), core.PutOptions{Metadata: map[string]string{"a": "1"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	info, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = rc.Close()
	info.Metadata["a"] = "mutated"

	again, err := store.Head(ctx, "k")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if again.Metadata["a"] != "1" {
		t.Fatalf("metadata mutation leaked into store")
	}
}

func TestPresignUnsupported(t *testing.T) {
	if _, err := New().PresignURL(context.Background(), "k", core.SignedURLOptions{}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
