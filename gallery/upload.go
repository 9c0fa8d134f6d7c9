package gallery

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"cloudgallery/galleryerr"
	"cloudgallery/objstore"

	"github.com/golang/glog"
)

var ErrUploadInProgress = errors.New("an upload is already in progress")

var errNotImage = errors.New("not an image")

// File is a user-selected file to upload.
type File struct {
	Name string

	// ContentType is the declared media type.  When empty or the generic
	// application/octet-stream it is sniffed from the first bytes of Content.
	ContentType string

	Size    int64
	Content io.Reader
}

// UploadStatus is a point-in-time view of an upload.
type UploadStatus struct {
	FileName string
	Key      string
	Percent  float64
}

// UploadSession tracks one in-flight upload.  It ends exactly once, either
// successfully after the follow-up listing or with a classified error.
type UploadSession struct {
	fileName string
	key      string
	total    int64

	mu       sync.Mutex
	percent  float64
	reported bool
	closed   bool
	progress chan float64

	done chan struct{}
	err  error
}

func newUploadSession(fileName, key string, total int64) *UploadSession {
	return &UploadSession{
		fileName: fileName,
		key:      key,
		total:    total,
		progress: make(chan float64, 128),
		done:     make(chan struct{}),
	}
}

// Key is the object path the file is written to.
func (s *UploadSession) Key() string {
	return s.key
}

// Progress delivers percentages in [0, 100] as bytes are acknowledged.  The
// sequence starts at 0, never repeats a value, and is closed when the
// transfer stops.  Values are dropped if the receiver falls behind; Percent
// always has the latest.
func (s *UploadSession) Progress() <-chan float64 {
	return s.progress
}

// Percent is the most recently reported percentage.
func (s *UploadSession) Percent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

func (s *UploadSession) Status() UploadStatus {
	return UploadStatus{
		FileName: s.fileName,
		Key:      s.key,
		Percent:  s.Percent(),
	}
}

// Done is closed when the session ends.
func (s *UploadSession) Done() <-chan struct{} {
	return s.done
}

// Err is the session's outcome.  It is nil until Done is closed.
func (s *UploadSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the session ends or ctx is done.
func (s *UploadSession) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *UploadSession) report(transferred int64) {
	pct := percentOf(transferred, s.total)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.reported && pct == s.percent {
		return
	}
	s.reported = true
	s.percent = pct
	select {
	case s.progress <- pct:
	default:
	}
}

func (s *UploadSession) closeProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.progress)
	}
}

func (s *UploadSession) finish(err error) {
	s.err = err
	close(s.done)
}

func percentOf(n, total int64) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(n) / float64(total) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Upload starts writing f to the gallery under a new, time-prefixed key and
// returns the session tracking it.  ctx must outlive the transfer.
//
// Only one upload runs at a time; a second call while one is active returns
// ErrUploadInProgress.  Files that are not images are refused with an
// INVALID_FILE_TYPE error before anything is sent.  On success the session
// ends after exactly one follow-up listing.  On failure the session ends with
// UNAUTHORIZED or UPLOAD_FAILED and no listing is made.
func (r *Reconciler) Upload(ctx context.Context, f File) (*UploadSession, error) {
	if r.uploading() {
		return nil, ErrUploadInProgress
	}

	content, contentType := sniffContentType(f)
	if !isImage(contentType) {
		gerr := galleryerr.New(galleryerr.KindInvalidFileType, fmt.Errorf("%q has type %q: %w", f.Name, contentType, errNotImage))
		r.fail(gerr)
		recordOp(ctx, opUpload, gerr)
		return nil, gerr
	}

	key := Prefix + strconv.FormatInt(r.now().UnixMilli(), 10) + "_" + baseName(f.Name)
	s := newUploadSession(f.Name, key, f.Size)

	r.mu.Lock()
	if r.upload != nil {
		r.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	r.upload = s
	r.state = StateUploading
	r.err = nil
	r.mu.Unlock()

	glog.Infof("Uploading %q to %q (%d bytes, %s)", f.Name, key, f.Size, contentType)
	go r.runUpload(ctx, s, content, contentType)
	return s, nil
}

func (r *Reconciler) uploading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upload != nil
}

func (r *Reconciler) runUpload(ctx context.Context, s *UploadSession, content io.Reader, contentType string) {
	err := r.bucket.Upload(ctx, s.key, contentType, content, s.total, s.report)
	s.closeProgress()

	if err != nil {
		gerr := classifyUpload(fmt.Errorf("while uploading %q: %w", s.key, err))
		glog.Errorf("Error while uploading image: %v", err)

		r.mu.Lock()
		r.upload = nil
		r.state = StateError
		r.err = gerr
		r.mu.Unlock()

		recordOp(ctx, opUpload, gerr)
		s.finish(gerr)
		return
	}
	recordOp(ctx, opUpload, nil)
	recordUploadBytes(ctx, s.total)

	r.mu.Lock()
	r.upload = nil
	r.mu.Unlock()

	// A failed follow-up listing lands in the reconciler's state; the upload
	// itself succeeded.
	if err := r.Refresh(ctx); err != nil {
		glog.Errorf("Error while listing after upload of %q: %v", s.key, err)
	}
	s.finish(nil)
}

func classifyUpload(err error) *galleryerr.Error {
	if objstore.CategoryOf(err) == objstore.CategoryPermissionDenied {
		return galleryerr.New(galleryerr.KindUnauthorized, err)
	}
	return galleryerr.New(galleryerr.KindUploadFailed, err)
}

// sniffContentType returns the reader to upload from and f's media type,
// detecting it from the content when none was declared.
func sniffContentType(f File) (io.Reader, string) {
	if f.ContentType != "" && f.ContentType != "application/octet-stream" {
		return f.Content, f.ContentType
	}
	br := bufio.NewReaderSize(f.Content, 512)
	head, _ := br.Peek(512)
	return br, http.DetectContentType(head)
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

// baseName strips any directory part a client sent along with the file name.
func baseName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
