// Package blob is the facade over the blob storage backends. Services depend
// on this package only; the concrete drivers live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dartcore/internal/blob/core"
	fsblob "dartcore/internal/infra/blob/fs"
	memblob "dartcore/internal/infra/blob/memory"
	s3blob "dartcore/internal/infra/blob/s3"
)

// Re-exported core types so callers never import internal/blob/core directly.
type (
	Store            = core.Store
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Driver           = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrUnsupported mirrors core.ErrUnsupported.
var ErrUnsupported = core.ErrUnsupported

// S3Config aliases the S3 driver configuration.
type S3Config = s3blob.Config

// NewFilesystem returns a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsblob.New(root) }

// NewMemory returns an in-memory store, typically for tests.
func NewMemory() Store { return memblob.New() }

// NewS3 returns an S3-backed store from explicit configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3blob.New(ctx, cfg) }

// Open selects a store from the environment:
//
//	DARTCORE_BLOB_DRIVER = fs (default) | s3 | memory
//	DARTCORE_BLOB_FS_ROOT = directory for the fs driver (default ./blobdata)
//	DARTCORE_BLOB_S3_*    = see the s3 driver package
func Open(ctx context.Context) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DARTCORE_BLOB_DRIVER")))
	switch Driver(driver) {
	case DriverFilesystem, "":
		return NewFilesystem(os.Getenv("DARTCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3blob.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", driver)
	}
}
