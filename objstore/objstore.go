// Package objstore is the narrow view of a remote object store that the
// gallery and the connection tester consume.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloudgallery/config"

	"github.com/google/uuid"
)

// Category is the machine-readable class of a remote failure.
type Category int

const (
	CategoryOther Category = iota
	CategoryPermissionDenied
	CategoryNotFound
)

func (c Category) String() string {
	switch c {
	case CategoryPermissionDenied:
		return "permission-denied"
	case CategoryNotFound:
		return "not-found"
	}
	return "other"
}

// Error is a failed remote operation.
type Error struct {
	Category Category
	Op       string
	Object   string

	inner error
}

func NewError(category Category, op, object string, inner error) *Error {
	return &Error{
		Category: category,
		Op:       op,
		Object:   object,
		inner:    inner,
	}
}

func (e *Error) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Category, e.inner)
	}
	return fmt.Sprintf("%s %q (%s): %v", e.Op, e.Object, e.Category, e.inner)
}

func (e *Error) Unwrap() error {
	return e.inner
}

// CategoryOf returns the category of the first *Error in err's chain.  Errors
// that did not come from a store are CategoryOther.
func CategoryOf(err error) Category {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Category
	}
	return CategoryOther
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	// Name is the full path of the object within the bucket.
	Name        string
	ContentType string
	Size        int64

	// Created is the store's creation time, or zero if it did not report one.
	Created time.Time
}

// ProgressFunc receives the number of bytes transferred so far.
type ProgressFunc func(transferred int64)

// Bucket is the set of remote operations the gallery performs.
type Bucket interface {
	// List returns the objects directly under prefix.  limit caps the number
	// of objects returned; zero means no cap.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// FetchURL resolves an address the browser can load the object from.
	FetchURL(ctx context.Context, name string) (string, error)

	// Upload writes a new object.  It fails if name already exists.  progress
	// is called from the uploading goroutine on every transport event.
	Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) error

	Delete(ctx context.Context, name string) error
}

// Session is a Bucket bound to one client connection.
type Session interface {
	Bucket

	// Name identifies the session; no two sessions share one.
	Name() string

	Close() error
}

// SessionName returns a fresh session name for the given purpose.
func SessionName(purpose string) string {
	return purpose + "-" + uuid.NewString()
}

// Dialer opens sessions for a configuration.
type Dialer interface {
	Dial(ctx context.Context, cfg *config.Configuration, name string) (Session, error)
}
