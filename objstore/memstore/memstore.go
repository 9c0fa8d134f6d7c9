// Package memstore is an in-memory object store.  It backs the demo mode of
// the binary and doubles as a recording fake in tests.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"cloudgallery/config"
	"cloudgallery/objstore"
)

var ErrAlreadyExists = errors.New("object already exists")

// Op names a remote operation for error injection and the call log.
type Op string

const (
	OpList   Op = "list"
	OpFetch  Op = "fetch"
	OpUpload Op = "upload"
	OpDelete Op = "delete"
)

// Call is one recorded operation.
type Call struct {
	Session string
	Op      Op
	Object  string
}

type object struct {
	data        []byte
	contentType string
	created     time.Time
}

// Bucket is a single in-memory bucket.  It is safe for concurrent use.
type Bucket struct {
	name string

	// ChunkSize is how many bytes an upload moves between progress reports.
	ChunkSize int

	// EmptyIsNotFound makes listing an empty prefix fail with a not-found
	// category, the way Firebase Storage's listAll can.
	EmptyIsNotFound bool

	// Now stamps object creation times.  Nil leaves them zero, like a store
	// that reports none.
	Now func() time.Time

	mu      sync.Mutex
	objects map[string]*object
	errs    map[Op]error
	calls   []Call
	closed  map[string]bool
}

func New(name string) *Bucket {
	return &Bucket{
		name:      name,
		ChunkSize: 256 * 1024,
		objects:   map[string]*object{},
		errs:      map[Op]error{},
		closed:    map[string]bool{},
	}
}

// Put stores an object directly, without recording a call.
func (b *Bucket) Put(name, contentType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = &object{data: data, contentType: contentType, created: b.stamp()}
}

// Has reports whether an object exists.
func (b *Bucket) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[name]
	return ok
}

// Data returns a copy of an object's contents.
func (b *Bucket) Data(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// SetError makes every later op fail with err, until cleared with a nil err.
// Errors that are not already *objstore.Error are reported as
// CategoryOther.
func (b *Bucket) SetError(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.errs, op)
		return
	}
	b.errs[op] = err
}

// Calls returns the operations performed so far.
func (b *Bucket) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount counts recorded calls of op.
func (b *Bucket) CallCount(op Op) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Closed reports whether the named session has been closed.
func (b *Bucket) Closed(session string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed[session]
}

func (b *Bucket) stamp() time.Time {
	if b.Now == nil {
		return time.Time{}
	}
	return b.Now()
}

// begin records a call and returns the injected error for op, if any.
func (b *Bucket) begin(session string, op Op, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Session: session, Op: op, Object: name})
	err, ok := b.errs[op]
	if !ok {
		return nil
	}
	var oerr *objstore.Error
	if errors.As(err, &oerr) {
		return err
	}
	return objstore.NewError(objstore.CategoryOther, string(op), name, err)
}

// Session returns a named handle on the bucket.
func (b *Bucket) Session(name string) *Session {
	return &Session{name: name, bucket: b}
}

// Dialer hands out sessions on buckets it knows by name.
type Dialer struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
	dialed  []string
}

var _ objstore.Dialer = (*Dialer)(nil)

func NewDialer(buckets ...*Bucket) *Dialer {
	d := &Dialer{buckets: map[string]*Bucket{}}
	for _, b := range buckets {
		d.buckets[b.name] = b
	}
	return d
}

// Dialed returns the names of every session handed out so far.
func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

// Dial fails with a CategoryOther error for unknown buckets, the way an
// invalid storageBucket does against a real store.
func (d *Dialer) Dial(ctx context.Context, cfg *config.Configuration, name string) (objstore.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("while dialing session %s: %w", name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, name)

	b, ok := d.buckets[objstore.BucketName(cfg)]
	if !ok {
		return &Session{name: name, missing: true}, nil
	}
	return b.Session(name), nil
}

// Session implements objstore.Session over a Bucket.
type Session struct {
	name    string
	bucket  *Bucket
	missing bool
}

var _ objstore.Session = (*Session)(nil)

var errNoSuchBucket = errors.New("bucket does not exist")

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Close() error {
	if s.missing {
		return nil
	}
	s.bucket.mu.Lock()
	defer s.bucket.mu.Unlock()
	s.bucket.closed[s.name] = true
	return nil
}

func (s *Session) List(ctx context.Context, prefix string, limit int) ([]objstore.ObjectInfo, error) {
	if s.missing {
		return nil, objstore.NewError(objstore.CategoryOther, string(OpList), prefix, errNoSuchBucket)
	}
	if err := s.bucket.begin(s.name, OpList, prefix); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, objstore.NewError(objstore.CategoryOther, string(OpList), prefix, err)
	}

	b := s.bucket
	b.mu.Lock()
	defer b.mu.Unlock()

	infos := []objstore.ObjectInfo{}
	for name, obj := range b.objects {
		if !strings.HasPrefix(name, prefix) || name == prefix {
			continue
		}
		if strings.Contains(strings.TrimPrefix(name, prefix), "/") {
			continue
		}
		infos = append(infos, objstore.ObjectInfo{
			Name:        name,
			ContentType: obj.contentType,
			Size:        int64(len(obj.data)),
			Created:     obj.created,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	if len(infos) == 0 && b.EmptyIsNotFound {
		return nil, objstore.NewError(objstore.CategoryNotFound, string(OpList), prefix, errors.New("no objects under prefix"))
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (s *Session) FetchURL(ctx context.Context, name string) (string, error) {
	if s.missing {
		return "", objstore.NewError(objstore.CategoryOther, string(OpFetch), name, errNoSuchBucket)
	}
	if err := s.bucket.begin(s.name, OpFetch, name); err != nil {
		return "", err
	}
	if !s.bucket.Has(name) {
		return "", objstore.NewError(objstore.CategoryNotFound, string(OpFetch), name, errors.New("no such object"))
	}
	return "mem://" + s.bucket.name + "/" + url.PathEscape(name), nil
}

func (s *Session) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress objstore.ProgressFunc) error {
	if s.missing {
		return objstore.NewError(objstore.CategoryOther, string(OpUpload), name, errNoSuchBucket)
	}
	if err := s.bucket.begin(s.name, OpUpload, name); err != nil {
		return err
	}
	if s.bucket.Has(name) {
		return objstore.NewError(objstore.CategoryOther, string(OpUpload), name, ErrAlreadyExists)
	}

	chunk := s.bucket.ChunkSize
	if chunk <= 0 {
		chunk = 256 * 1024
	}

	report := func(n int64) {
		if progress != nil {
			progress(n)
		}
	}
	report(0)

	buf := bytes.Buffer{}
	for {
		if err := ctx.Err(); err != nil {
			return objstore.NewError(objstore.CategoryOther, string(OpUpload), name, err)
		}
		n, err := io.CopyN(&buf, content, int64(chunk))
		if n > 0 {
			report(int64(buf.Len()))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return objstore.NewError(objstore.CategoryOther, string(OpUpload), name, err)
		}
	}

	b := s.bucket
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; ok {
		return objstore.NewError(objstore.CategoryOther, string(OpUpload), name, ErrAlreadyExists)
	}
	b.objects[name] = &object{data: buf.Bytes(), contentType: contentType, created: b.stamp()}
	return nil
}

func (s *Session) Delete(ctx context.Context, name string) error {
	if s.missing {
		return objstore.NewError(objstore.CategoryOther, string(OpDelete), name, errNoSuchBucket)
	}
	if err := s.bucket.begin(s.name, OpDelete, name); err != nil {
		return err
	}

	b := s.bucket
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; !ok {
		return objstore.NewError(objstore.CategoryNotFound, string(OpDelete), name, errors.New("no such object"))
	}
	delete(b.objects, name)
	return nil
}
