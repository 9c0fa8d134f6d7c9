package gallery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloudgallery/galleryerr"
	"cloudgallery/objstore"
	"cloudgallery/objstore/memstore"

	"github.com/google/go-cmp/cmp"
	"go.opencensus.io/stats/view"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	next := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func newTestReconciler(b *memstore.Bucket) *Reconciler {
	return New(b.Session("gallery-test"), WithClock(fixedClock))
}

func yes(string) bool { return true }

func denied(op string) error {
	return objstore.NewError(objstore.CategoryPermissionDenied, op, "", errors.New("403 Forbidden"))
}

func ids(images []Image) []string {
	out := []string{}
	for _, img := range images {
		out = append(out, img.ID)
	}
	return out
}

func TestNewStartsIdleAndEmpty(t *testing.T) {
	snap := newTestReconciler(memstore.New("demo")).Snapshot()
	if snap.State != StateIdle {
		t.Errorf("State = %v, want %v", snap.State, StateIdle)
	}
	if snap.Images == nil || len(snap.Images) != 0 {
		t.Errorf("Images = %#v, want empty", snap.Images)
	}
}

func TestRefreshEmpty(t *testing.T) {
	testCases := []struct {
		desc            string
		emptyIsNotFound bool
	}{
		{"empty listing", false},
		{"not found", true},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := memstore.New("demo")
			b.EmptyIsNotFound = tc.emptyIsNotFound
			r := newTestReconciler(b)

			if err := r.Refresh(context.Background()); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			snap := r.Snapshot()
			if diff := cmp.Diff(snap.Images, []Image{}); diff != "" {
				t.Errorf("Bad images; diff (-got +want)\n%s", diff)
			}
			if snap.State != StateIdle || snap.Err != nil {
				t.Errorf("Snapshot state = %v, err = %v; want IDLE with no error", snap.State, snap.Err)
			}
		})
	}
}

func TestRefreshSortsNewestFirst(t *testing.T) {
	b := memstore.New("demo")
	b.Now = tickingClock()
	b.Put("gallery/b.png", "image/png", []byte("b"))
	b.Put("gallery/c.png", "image/png", []byte("c"))
	b.Put("gallery/a.png", "image/png", []byte("a"))
	b.Put("elsewhere/z.png", "image/png", []byte("z"))

	r := newTestReconciler(b)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []Image{
		{ID: "gallery/a.png", URL: "mem://demo/gallery%2Fa.png", Name: "a.png", CreatedAt: epoch.Add(2 * time.Second)},
		{ID: "gallery/c.png", URL: "mem://demo/gallery%2Fc.png", Name: "c.png", CreatedAt: epoch.Add(1 * time.Second)},
		{ID: "gallery/b.png", URL: "mem://demo/gallery%2Fb.png", Name: "b.png", CreatedAt: epoch},
	}
	if diff := cmp.Diff(r.Snapshot().Images, want); diff != "" {
		t.Fatalf("Bad images; diff (-got +want)\n%s", diff)
	}
}

func TestRefreshOrderIsStableForEqualTimes(t *testing.T) {
	b := memstore.New("demo")
	b.Put("gallery/1_x.png", "image/png", []byte("x"))
	b.Put("gallery/1_y.png", "image/png", []byte("y"))

	r := newTestReconciler(b)
	var renders [][]string
	for i := 0; i < 3; i++ {
		if err := r.Refresh(context.Background()); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		renders = append(renders, ids(r.Snapshot().Images))
		renders = append(renders, ids(r.Snapshot().Images))
	}

	want := []string{"gallery/1_y.png", "gallery/1_x.png"}
	for i, got := range renders {
		if diff := cmp.Diff(got, want); diff != "" {
			t.Fatalf("Render %d out of order; diff (-got +want)\n%s", i, diff)
		}
	}

	for _, img := range r.Snapshot().Images {
		if !img.CreatedAt.Equal(epoch) {
			t.Errorf("Image %s CreatedAt = %v, want listing time %v", img.ID, img.CreatedAt, epoch)
		}
	}
}

func TestRefreshPermissionDenied(t *testing.T) {
	b := memstore.New("demo")
	b.Put("gallery/a.png", "image/png", []byte("a"))
	r := newTestReconciler(b)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	b.SetError(memstore.OpList, denied("list"))
	err := r.Refresh(context.Background())
	if got := galleryerr.KindOf(err); got != galleryerr.KindUnauthorized {
		t.Fatalf("Refresh() error kind = %v, want %v", got, galleryerr.KindUnauthorized)
	}

	snap := r.Snapshot()
	if snap.State != StateError {
		t.Errorf("State = %v, want %v", snap.State, StateError)
	}
	if snap.Err == nil || snap.Err.Snippet == "" {
		t.Errorf("Snapshot error %v lacks the rules snippet", snap.Err)
	}
	if diff := cmp.Diff(ids(snap.Images), []string{"gallery/a.png"}); diff != "" {
		t.Errorf("Collection changed on failed listing; diff (-got +want)\n%s", diff)
	}
}

func TestRefreshPermissionDeniedOnFirstLoad(t *testing.T) {
	b := memstore.New("demo")
	b.SetError(memstore.OpList, denied("list"))
	r := newTestReconciler(b)

	r.Refresh(context.Background())

	snap := r.Snapshot()
	if snap.Err == nil || snap.Err.Kind != galleryerr.KindUnauthorized {
		t.Fatalf("Snapshot error = %v, want %v", snap.Err, galleryerr.KindUnauthorized)
	}
	if diff := cmp.Diff(snap.Images, []Image{}); diff != "" {
		t.Errorf("Bad images; diff (-got +want)\n%s", diff)
	}
}

func TestRefreshOtherFailureIsUnreachable(t *testing.T) {
	b := memstore.New("demo")
	b.Put("gallery/a.png", "image/png", []byte("a"))
	b.SetError(memstore.OpFetch, errors.New("connection reset"))
	r := newTestReconciler(b)

	err := r.Refresh(context.Background())
	if got := galleryerr.KindOf(err); got != galleryerr.KindUnreachableOrInvalid {
		t.Fatalf("Refresh() error kind = %v, want %v", got, galleryerr.KindUnreachableOrInvalid)
	}
}

func TestRefreshSuccessClearsError(t *testing.T) {
	b := memstore.New("demo")
	b.SetError(memstore.OpList, denied("list"))
	r := newTestReconciler(b)
	r.Refresh(context.Background())

	b.SetError(memstore.OpList, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap := r.Snapshot(); snap.State != StateIdle || snap.Err != nil {
		t.Errorf("Snapshot state = %v, err = %v; want IDLE with no error", snap.State, snap.Err)
	}
}

// slowFirstList holds the first listing's result until released.
type slowFirstList struct {
	objstore.Bucket

	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (b *slowFirstList) List(ctx context.Context, prefix string, limit int) ([]objstore.ObjectInfo, error) {
	b.mu.Lock()
	b.calls++
	n := b.calls
	b.mu.Unlock()

	infos, err := b.Bucket.List(ctx, prefix, limit)
	if n == 1 {
		close(b.entered)
		<-b.release
	}
	return infos, err
}

func TestStaleListingIsDropped(t *testing.T) {
	mem := memstore.New("demo")
	mem.Put("gallery/1_a.png", "image/png", []byte("a"))
	b := &slowFirstList{
		Bucket:  mem.Session("gallery-test"),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := New(b, WithClock(fixedClock))

	firstDone := make(chan error)
	go func() {
		firstDone <- r.Refresh(context.Background())
	}()
	<-b.entered

	mem.Put("gallery/2_b.png", "image/png", []byte("b"))
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	close(b.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("Unexpected error from first listing: %v", err)
	}

	want := []string{"gallery/2_b.png", "gallery/1_a.png"}
	if diff := cmp.Diff(ids(r.Snapshot().Images), want); diff != "" {
		t.Fatalf("Stale listing was applied; diff (-got +want)\n%s", diff)
	}
}

func collectProgress(s *UploadSession) []float64 {
	got := []float64{}
	for pct := range s.Progress() {
		got = append(got, pct)
	}
	return got
}

func TestUploadSuccess(t *testing.T) {
	b := memstore.New("demo")
	b.ChunkSize = 512 * 1024
	r := newTestReconciler(b)

	content := bytes.Repeat([]byte{0xff}, 1024*1024)
	s, err := r.Upload(context.Background(), File{
		Name:        "cat.png",
		ContentType: "image/png",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	wantKey := "gallery/" + "1709294400000" + "_cat.png"
	if s.Key() != wantKey {
		t.Errorf("Key() = %q, want %q", s.Key(), wantKey)
	}

	if diff := cmp.Diff(collectProgress(s), []float64{0, 50, 100}); diff != "" {
		t.Errorf("Bad progress; diff (-got +want)\n%s", diff)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !b.Has(wantKey) {
		t.Errorf("Object %s was not stored", wantKey)
	}
	if n := b.CallCount(memstore.OpList); n != 1 {
		t.Errorf("Listed %d times after upload, want 1", n)
	}

	snap := r.Snapshot()
	if snap.State != StateIdle || snap.Upload != nil {
		t.Errorf("Snapshot state = %v, upload = %v; want IDLE with no upload", snap.State, snap.Upload)
	}
	if diff := cmp.Diff(ids(snap.Images), []string{wantKey}); diff != "" {
		t.Errorf("Bad images; diff (-got +want)\n%s", diff)
	}
}

func TestUploadSniffsMissingContentType(t *testing.T) {
	b := memstore.New("demo")
	r := newTestReconciler(b)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	s, err := r.Upload(context.Background(), File{Name: `C:\photos\dog.png`, Size: int64(len(png)), Content: bytes.NewReader(png)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if !strings.HasSuffix(s.Key(), "_dog.png") {
		t.Errorf("Key() = %q, want the base name only", s.Key())
	}
	if data, _ := b.Data(s.Key()); !bytes.Equal(data, png) {
		t.Errorf("Stored content differs from the sniffed file")
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	testCases := []struct {
		desc string
		file File
	}{
		{"declared text", File{Name: "notes.txt", ContentType: "text/plain", Content: strings.NewReader("hi")}},
		{"sniffed text", File{Name: "notes", Content: strings.NewReader("just some words")}},
		{"bad media type", File{Name: "x", ContentType: "image", Content: strings.NewReader("x")}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := memstore.New("demo")
			r := newTestReconciler(b)

			_, err := r.Upload(context.Background(), tc.file)
			if got := galleryerr.KindOf(err); got != galleryerr.KindInvalidFileType {
				t.Fatalf("Upload() error kind = %v (%v), want %v", got, err, galleryerr.KindInvalidFileType)
			}
			if calls := b.Calls(); len(calls) != 0 {
				t.Errorf("Rejected file caused calls %v", calls)
			}
		})
	}
}

// gatedReader blocks its first read until released.
type gatedReader struct {
	release chan struct{}
	once    sync.Once
	r       io.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() { <-g.release })
	return g.r.Read(p)
}

func TestSecondUploadIsRejected(t *testing.T) {
	b := memstore.New("demo")
	r := newTestReconciler(b)

	gate := &gatedReader{release: make(chan struct{}), r: strings.NewReader("first")}
	first, err := r.Upload(context.Background(), File{Name: "a.png", ContentType: "image/png", Size: 5, Content: gate})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if snap := r.Snapshot(); snap.State != StateUploading || snap.Upload == nil {
		t.Fatalf("Snapshot state = %v, upload = %v; want UPLOADING", snap.State, snap.Upload)
	}

	for _, f := range []File{
		{Name: "b.png", ContentType: "image/png", Size: 1, Content: strings.NewReader("b")},
		{Name: "c.txt", ContentType: "text/plain", Size: 1, Content: strings.NewReader("c")},
	} {
		if _, err := r.Upload(context.Background(), f); !errors.Is(err, ErrUploadInProgress) {
			t.Errorf("Upload(%s) during upload error = %v, want %v", f.Name, err, ErrUploadInProgress)
		}
	}

	close(gate.release)
	if err := first.Wait(context.Background()); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if n := b.CallCount(memstore.OpUpload); n != 1 {
		t.Errorf("Started %d transfers, want 1", n)
	}
}

func TestUploadFailure(t *testing.T) {
	testCases := []struct {
		desc     string
		err      error
		wantKind galleryerr.Kind
	}{
		{"permission denied", denied("upload"), galleryerr.KindUnauthorized},
		{"other", errors.New("network down"), galleryerr.KindUploadFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := memstore.New("demo")
			b.Put("gallery/old.png", "image/png", []byte("o"))
			r := newTestReconciler(b)
			if err := r.Refresh(context.Background()); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			b.SetError(memstore.OpUpload, tc.err)

			s, err := r.Upload(context.Background(), File{Name: "a.png", ContentType: "image/png", Size: 1, Content: strings.NewReader("a")})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			err = s.Wait(context.Background())
			if got := galleryerr.KindOf(err); got != tc.wantKind {
				t.Fatalf("Wait() error kind = %v, want %v", got, tc.wantKind)
			}
			if got := galleryerr.KindOf(s.Err()); got != tc.wantKind {
				t.Errorf("Err() kind = %v, want %v", got, tc.wantKind)
			}
			if n := b.CallCount(memstore.OpList); n != 1 {
				t.Errorf("Listed %d times, want only the initial listing", n)
			}

			snap := r.Snapshot()
			if snap.State != StateError || snap.Upload != nil {
				t.Errorf("Snapshot state = %v, upload = %v; want ERROR with no upload", snap.State, snap.Upload)
			}
			if diff := cmp.Diff(ids(snap.Images), []string{"gallery/old.png"}); diff != "" {
				t.Errorf("Collection changed on failed upload; diff (-got +want)\n%s", diff)
			}

			// The gate reopens after a failure.
			b.SetError(memstore.OpUpload, nil)
			next, err := r.Upload(context.Background(), File{Name: "b.png", ContentType: "image/png", Size: 1, Content: strings.NewReader("b")})
			if err != nil {
				t.Fatalf("Upload after failure: %v", err)
			}
			if err := next.Wait(context.Background()); err != nil {
				t.Fatalf("Upload after failure failed: %v", err)
			}
		})
	}
}

func TestProgressIsMonotonicWithoutRepeats(t *testing.T) {
	s := newUploadSession("a.png", "gallery/1_a.png", 10)
	for _, n := range []int64{0, 0, 3, 3, 10, 12} {
		s.report(n)
	}
	s.closeProgress()
	s.report(10)

	if diff := cmp.Diff(collectProgress(s), []float64{0, 30, 100}); diff != "" {
		t.Fatalf("Bad progress; diff (-got +want)\n%s", diff)
	}
	if s.Percent() != 100 {
		t.Errorf("Percent() = %v, want 100", s.Percent())
	}
}

func TestDelete(t *testing.T) {
	b := memstore.New("demo")
	b.Put("gallery/1_a.png", "image/png", []byte("a"))
	b.Put("gallery/2_b.png", "image/png", []byte("b"))
	r := newTestReconciler(b)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	var prompts []string
	err := r.Delete(context.Background(), "gallery/1_a.png", func(prompt string) bool {
		prompts = append(prompts, prompt)
		return true
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if diff := cmp.Diff(prompts, []string{DeletePrompt}); diff != "" {
		t.Errorf("Bad prompts; diff (-got +want)\n%s", diff)
	}

	want := []memstore.Call{
		{Session: "gallery-test", Op: memstore.OpDelete, Object: "gallery/1_a.png"},
		{Session: "gallery-test", Op: memstore.OpList, Object: "gallery/"},
		{Session: "gallery-test", Op: memstore.OpFetch, Object: "gallery/2_b.png"},
	}
	if diff := cmp.Diff(b.Calls()[3:], want); diff != "" {
		t.Errorf("Bad calls after delete; diff (-got +want)\n%s", diff)
	}
	if diff := cmp.Diff(ids(r.Snapshot().Images), []string{"gallery/2_b.png"}); diff != "" {
		t.Errorf("Bad images; diff (-got +want)\n%s", diff)
	}
}

func TestDeleteDeclined(t *testing.T) {
	b := memstore.New("demo")
	b.Put("gallery/1_a.png", "image/png", []byte("a"))
	r := newTestReconciler(b)

	for _, confirm := range []ConfirmFunc{nil, func(string) bool { return false }} {
		if err := r.Delete(context.Background(), "gallery/1_a.png", confirm); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if calls := b.Calls(); len(calls) != 0 {
		t.Errorf("Declined delete caused calls %v", calls)
	}
	if !b.Has("gallery/1_a.png") {
		t.Errorf("Declined delete removed the object")
	}
}

func TestDeleteFailure(t *testing.T) {
	testCases := []struct {
		desc  string
		id    string
		err   error
		calls int
	}{
		{"remote denied", "gallery/1_a.png", denied("delete"), 1},
		{"already gone", "gallery/9_gone.png", nil, 1},
		{"outside gallery", "secrets/key.pem", nil, 0},
		{"gallery folder itself", "gallery/", nil, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			b := memstore.New("demo")
			b.Put("gallery/1_a.png", "image/png", []byte("a"))
			r := newTestReconciler(b)
			if err := r.Refresh(context.Background()); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tc.err != nil {
				b.SetError(memstore.OpDelete, tc.err)
			}

			err := r.Delete(context.Background(), tc.id, yes)
			if got := galleryerr.KindOf(err); got != galleryerr.KindDeleteFailed {
				t.Fatalf("Delete() error kind = %v, want %v", got, galleryerr.KindDeleteFailed)
			}
			if n := b.CallCount(memstore.OpDelete); n != tc.calls {
				t.Errorf("Made %d delete calls, want %d", n, tc.calls)
			}
			if n := b.CallCount(memstore.OpList); n != 1 {
				t.Errorf("Listed %d times, want only the initial listing", n)
			}

			snap := r.Snapshot()
			if snap.State != StateError {
				t.Errorf("State = %v, want %v", snap.State, StateError)
			}
			if diff := cmp.Diff(ids(snap.Images), []string{"gallery/1_a.png"}); diff != "" {
				t.Errorf("Collection changed on failed delete; diff (-got +want)\n%s", diff)
			}
		})
	}
}

func TestOperationsAreCounted(t *testing.T) {
	if err := RegisterViews(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer view.Unregister(OperationCountView, UploadBytesView)

	b := memstore.New("demo")
	b.SetError(memstore.OpList, denied("list"))
	newTestReconciler(b).Refresh(context.Background())

	rows, err := view.RetrieveData(OperationCountView.Name)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for _, row := range rows {
		tags := map[string]string{}
		for _, tg := range row.Tags {
			tags[tg.Key.Name()] = tg.Value
		}
		if tags["op"] == "list" && tags["outcome"] == "UNAUTHORIZED" {
			return
		}
	}
	t.Fatalf("No list/UNAUTHORIZED row in %v", rows)
}
