// Package gallery keeps the displayed image collection consistent with the
// images stored under the gallery prefix of a bucket.
//
// The collection is never patched in place.  Every listing replaces it
// wholesale, and every successful upload or delete is followed by a fresh
// listing.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudgallery/galleryerr"
	"cloudgallery/objstore"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
)

// Prefix is the logical folder all gallery images live under.
const Prefix = "gallery/"

// DeletePrompt is the confirmation question asked before a delete.
const DeletePrompt = "Delete this image permanently from the cloud?"

type State int

const (
	StateIdle State = iota
	StateListing
	StateUploading
	StateDeleting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListing:
		return "LISTING"
	case StateUploading:
		return "UPLOADING"
	case StateDeleting:
		return "DELETING"
	case StateError:
		return "ERROR"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Image is one stored image as last listed.
type Image struct {
	// ID is the object's full path in the bucket.
	ID   string
	URL  string
	Name string

	// CreatedAt orders the collection.  It is the store's creation time when
	// the store reports one, and the time of the listing otherwise.
	CreatedAt time.Time
}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(prompt string) bool

// Snapshot is a consistent copy of the reconciler's state for rendering.
type Snapshot struct {
	Images []Image
	State  State

	// Err is the failure that put the reconciler into StateError, if any.
	Err *galleryerr.Error

	// Upload is set while an upload is in flight.
	Upload *UploadStatus
}

type Reconciler struct {
	bucket objstore.Bucket
	now    func() time.Time

	mu     sync.Mutex
	images []Image
	state  State
	err    *galleryerr.Error
	upload *UploadSession

	// Listings are numbered as they start.  A listing that finishes after a
	// newer one has been applied is stale and dropped.
	listIssued  uint64
	listApplied uint64
}

type Option func(*Reconciler)

// WithClock overrides the clock used for listing times and object keys.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// New creates a reconciler over bucket.  It starts IDLE with an empty
// collection; call Refresh to load it.
func New(bucket objstore.Bucket, opts ...Option) *Reconciler {
	r := &Reconciler{
		bucket: bucket,
		now:    time.Now,
		images: []Image{},
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Images: make([]Image, len(r.images)),
		State:  r.state,
		Err:    r.err,
	}
	copy(snap.Images, r.images)
	if r.upload != nil {
		st := r.upload.Status()
		snap.Upload = &st
	}
	return snap
}

// Refresh lists the bucket and replaces the collection with the result.
//
// An empty or missing gallery folder yields an empty collection.  On any
// other failure the previous collection stays in place, the reconciler moves
// to StateError, and the classified error is returned.
func (r *Reconciler) Refresh(ctx context.Context) error {
	seq := r.beginList()

	images, gerr := r.fetch(ctx)
	r.finishList(seq, images, gerr)
	if gerr != nil {
		recordOp(ctx, opList, gerr)
		return gerr
	}
	recordOp(ctx, opList, nil)
	return nil
}

func (r *Reconciler) beginList() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listIssued++
	r.state = StateListing
	return r.listIssued
}

func (r *Reconciler) finishList(seq uint64, images []Image, gerr *galleryerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.listApplied {
		glog.Infof("Dropping listing %d; listing %d already applied", seq, r.listApplied)
		return
	}
	r.listApplied = seq

	if gerr != nil {
		r.state = StateError
		r.err = gerr
		return
	}

	r.images = images
	r.err = nil
	r.state = r.restingState()
}

// restingState is the state to settle in once a step completes without
// error.  Must be called with r.mu held.
func (r *Reconciler) restingState() State {
	if r.upload != nil {
		return StateUploading
	}
	return StateIdle
}

func (r *Reconciler) fetch(ctx context.Context) ([]Image, *galleryerr.Error) {
	objs, err := r.bucket.List(ctx, Prefix, 0)
	if err != nil {
		if objstore.CategoryOf(err) == objstore.CategoryNotFound {
			return []Image{}, nil
		}
		return nil, classifyRemote(fmt.Errorf("while listing %q: %w", Prefix, err))
	}

	fetchedAt := r.now()

	images := make([]Image, len(objs))
	found := make([]bool, len(objs))
	g, gctx := errgroup.WithContext(ctx)
	for i, obj := range objs {
		i, obj := i, obj
		g.Go(func() error {
			url, err := r.bucket.FetchURL(gctx, obj.Name)
			if err != nil {
				if objstore.CategoryOf(err) == objstore.CategoryNotFound {
					// Deleted elsewhere since the listing.
					return nil
				}
				return fmt.Errorf("while resolving address of %q: %w", obj.Name, err)
			}

			created := obj.Created
			if created.IsZero() {
				created = fetchedAt
			}
			images[i] = Image{
				ID:        obj.Name,
				URL:       url,
				Name:      path.Base(obj.Name),
				CreatedAt: created,
			}
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, classifyRemote(err)
	}

	kept := images[:0]
	for i, img := range images {
		if found[i] {
			kept = append(kept, img)
		}
	}
	sortImages(kept)
	return kept, nil
}

// sortImages orders newest first.  Equal times fall back to descending ID,
// so repeated listings of the same objects always render the same way.
func sortImages(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func classifyRemote(err error) *galleryerr.Error {
	if objstore.CategoryOf(err) == objstore.CategoryPermissionDenied {
		return galleryerr.New(galleryerr.KindUnauthorized, err)
	}
	return galleryerr.New(galleryerr.KindUnreachableOrInvalid, err)
}

// fail records gerr without touching the collection.
func (r *Reconciler) fail(gerr *galleryerr.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateError
	r.err = gerr
}

var errOutsideGallery = errors.New("not a gallery image")

// Delete removes the image with the given ID after confirm approves
// DeletePrompt.  A declined confirmation is a no-op.
//
// On failure the collection is left as is, including the image, and a
// DELETE_FAILED error is returned.  On success the collection is refreshed.
func (r *Reconciler) Delete(ctx context.Context, id string, confirm ConfirmFunc) error {
	if confirm == nil || !confirm(DeletePrompt) {
		glog.Infof("Delete of %q declined", id)
		return nil
	}

	if !strings.HasPrefix(id, Prefix) || id == Prefix {
		gerr := galleryerr.New(galleryerr.KindDeleteFailed, fmt.Errorf("%q: %w", id, errOutsideGallery))
		r.fail(gerr)
		recordOp(ctx, opDelete, gerr)
		return gerr
	}

	r.mu.Lock()
	r.state = StateDeleting
	r.mu.Unlock()

	if err := r.bucket.Delete(ctx, id); err != nil {
		gerr := galleryerr.New(galleryerr.KindDeleteFailed, fmt.Errorf("while deleting %q: %w", id, err))
		glog.Errorf("Error while deleting image: %v", err)
		r.fail(gerr)
		recordOp(ctx, opDelete, gerr)
		return gerr
	}
	recordOp(ctx, opDelete, nil)

	return r.Refresh(ctx)
}
