// Package probe tests a candidate configuration against the remote bucket
// before it is adopted.
package probe

import (
	"context"
	"fmt"

	"cloudgallery/config"
	"cloudgallery/galleryerr"
	"cloudgallery/objstore"

	"github.com/golang/glog"
)

// Saver persists an adopted configuration.
type Saver interface {
	Save(cfg *config.Configuration) error
}

type Tester struct {
	dialer objstore.Dialer
	saver  Saver
}

func New(dialer objstore.Dialer, saver Saver) *Tester {
	return &Tester{
		dialer: dialer,
		saver:  saver,
	}
}

// Test parses candidateText, probes the bucket it names with one minimal
// listing, and on success persists and returns the configuration.
//
// Failures are *galleryerr.Error values: MALFORMED_CONFIG before any network
// access, UNAUTHORIZED when the bucket denies the listing, and
// UNREACHABLE_OR_INVALID otherwise.  The probe session is closed on every
// path and never handed to the caller.
func (t *Tester) Test(ctx context.Context, candidateText string) (*config.Configuration, error) {
	cfg, err := config.Parse(candidateText)
	if err != nil {
		return nil, galleryerr.New(galleryerr.KindMalformedConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, galleryerr.New(galleryerr.KindMalformedConfig, err)
	}

	if err := t.probe(ctx, cfg); err != nil {
		return nil, err
	}

	if err := t.saver.Save(cfg); err != nil {
		return nil, fmt.Errorf("while saving tested configuration: %w", err)
	}

	glog.Infof("Adopted configuration for project %q, bucket %q", cfg.ProjectID, cfg.StorageBucket)
	return cfg, nil
}

func (t *Tester) probe(ctx context.Context, cfg *config.Configuration) error {
	name := objstore.SessionName("probe")

	session, err := t.dialer.Dial(ctx, cfg, name)
	if err != nil {
		glog.Infof("Probe session %s could not be dialed: %v", name, err)
		return galleryerr.New(galleryerr.KindUnreachableOrInvalid, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			glog.Errorf("Error while closing probe session %s: %v", name, err)
		}
	}()

	if _, err := session.List(ctx, "", 1); err != nil {
		glog.Infof("Probe session %s failed to list bucket %q: %v", name, cfg.StorageBucket, err)
		if objstore.CategoryOf(err) == objstore.CategoryPermissionDenied {
			return galleryerr.New(galleryerr.KindUnauthorized, err)
		}
		return galleryerr.New(galleryerr.KindUnreachableOrInvalid, err)
	}

	return nil
}
