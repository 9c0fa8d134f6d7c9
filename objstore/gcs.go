package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloudgallery/config"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// downloadTokenKey is the custom metadata key Firebase Storage keeps download
// tokens under.
const downloadTokenKey = "firebaseStorageDownloadTokens"

// uploadChunkSize is the resumable upload chunk size, and so the granularity
// of progress reports.
const uploadChunkSize = 256 * 1024

// GCSDialer opens sessions against Google Cloud Storage.
//
// Credentials are chosen in order: CredentialsFile if set, the
// configuration's apiKey if set, otherwise Application Default Credentials.
type GCSDialer struct {
	CredentialsFile string

	// ExtraOptions are appended to every client's options.
	ExtraOptions []option.ClientOption
}

var _ Dialer = (*GCSDialer)(nil)

func (d *GCSDialer) Dial(ctx context.Context, cfg *config.Configuration, name string) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("while dialing session %s: %w", name, err)
	}

	opts := []option.ClientOption{option.WithUserAgent("cloudgallery/" + name)}
	switch {
	case d.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(d.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		creds, err := google.FindDefaultCredentials(ctx, storage.ScopeReadWrite)
		if err != nil {
			return nil, fmt.Errorf("while finding application default credentials: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	opts = append(opts, d.ExtraOptions...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating GCS client for session %s: %w", name, err)
	}

	return newGCSSession(name, BucketName(cfg), client), nil
}

// BucketName extracts the bare bucket name from a configuration's
// storageBucket, which users sometimes paste as a gs:// URL.
func BucketName(cfg *config.Configuration) string {
	b := strings.TrimSpace(cfg.StorageBucket)
	b = strings.TrimPrefix(b, "gs://")
	return strings.TrimSuffix(b, "/")
}

// GCSSession is a Session backed by one storage.Client.
type GCSSession struct {
	name   string
	bucket string

	client *storage.Client
}

var _ Session = (*GCSSession)(nil)

func newGCSSession(name, bucket string, client *storage.Client) *GCSSession {
	return &GCSSession{
		name:   name,
		bucket: bucket,
		client: client,
	}
}

func (s *GCSSession) Name() string {
	return s.name
}

func (s *GCSSession) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("while closing GCS client for session %s: %w", s.name, err)
	}
	return nil
}

func (s *GCSSession) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("cloudgallery/objstore").Start(ctx, "GCSSession."+op)
	span.SetAttributes(
		attribute.String("bucket", s.bucket),
		attribute.String("session", s.name),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *GCSSession) List(ctx context.Context, prefix string, limit int) (infos []ObjectInfo, retErr error) {
	ctx, span := s.startSpan(ctx, "List")
	defer func() { endSpan(span, retErr) }()
	span.SetAttributes(attribute.String("prefix", prefix))

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})
	if limit > 0 {
		it.PageInfo().MaxSize = limit
	}

	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, translateError("list", prefix, err)
		}

		// Skip synthetic "directory" entries and the folder placeholder the
		// console creates.
		if attrs.Prefix != "" || attrs.Name == prefix {
			continue
		}

		infos = append(infos, ObjectInfo{
			Name:        attrs.Name,
			ContentType: attrs.ContentType,
			Size:        attrs.Size,
			Created:     attrs.Created,
		})

		if limit > 0 && len(infos) >= limit {
			break
		}
	}

	return infos, nil
}

func (s *GCSSession) FetchURL(ctx context.Context, name string) (_ string, retErr error) {
	ctx, span := s.startSpan(ctx, "FetchURL")
	defer func() { endSpan(span, retErr) }()
	span.SetAttributes(attribute.String("object", name))

	attrs, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if err != nil {
		return "", translateError("attrs", name, err)
	}

	return downloadURL(s.bucket, name, attrs.Metadata[downloadTokenKey]), nil
}

func (s *GCSSession) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (retErr error) {
	ctx, span := s.startSpan(ctx, "Upload")
	defer func() { endSpan(span, retErr) }()
	span.SetAttributes(attribute.String("object", name), attribute.Int64("size", size))

	// Cancelling the writer's context is the only way to abandon a resumable
	// upload part way.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obj := s.client.Bucket(s.bucket).Object(name)

	// Create condition: object does not currently exist.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{downloadTokenKey: uuid.NewString()}
	w.ChunkSize = uploadChunkSize
	if progress != nil {
		w.ProgressFunc = func(n int64) { progress(n) }
		progress(0)
	}

	if _, err := io.Copy(w, content); err != nil {
		cancel()
		w.Close()
		return translateError("upload", name, err)
	}

	if err := w.Close(); err != nil {
		return translateError("upload", name, err)
	}

	if progress != nil {
		progress(w.Attrs().Size)
	}
	return nil
}

func (s *GCSSession) Delete(ctx context.Context, name string) (retErr error) {
	ctx, span := s.startSpan(ctx, "Delete")
	defer func() { endSpan(span, retErr) }()
	span.SetAttributes(attribute.String("object", name))

	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		return translateError("delete", name, err)
	}
	return nil
}

// translateError attaches a Category to an error from the storage client.
func translateError(op, object string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return NewError(CategoryNotFound, op, object, err)
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return NewError(CategoryOther, op, object, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewError(CategoryPermissionDenied, op, object, err)
		case http.StatusNotFound:
			// A listing only 404s when the bucket itself is missing, which
			// means the configuration names no real bucket.
			if op == "list" {
				return NewError(CategoryOther, op, object, err)
			}
			return NewError(CategoryNotFound, op, object, err)
		}
	}

	return NewError(CategoryOther, op, object, err)
}

// downloadURL forms the address of an object.  Objects with a Firebase
// download token get a token URL that works regardless of bucket ACLs;
// others get the public GCS URL.
func downloadURL(bucket, name, tokens string) string {
	token := strings.TrimSpace(strings.Split(tokens, ",")[0])
	if token == "" {
		segments := strings.Split(name, "/")
		for i, seg := range segments {
			segments[i] = url.PathEscape(seg)
		}
		return "https://storage.googleapis.com/" + url.PathEscape(bucket) + "/" + strings.Join(segments, "/")
	}

	q := url.Values{}
	q.Set("alt", "media")
	q.Set("token", token)
	return "https://firebasestorage.googleapis.com/v0/b/" + url.PathEscape(bucket) + "/o/" + url.PathEscape(name) + "?" + q.Encode()
}
