package gallery

import (
	"context"

	"cloudgallery/galleryerr"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const (
	opList   = "list"
	opUpload = "upload"
	opDelete = "delete"
)

var (
	keyOp      = tag.MustNewKey("op")
	keyOutcome = tag.MustNewKey("outcome")

	opCount     = stats.Int64("cloudgallery/gallery/operations", "Gallery operations by outcome", stats.UnitDimensionless)
	uploadBytes = stats.Int64("cloudgallery/gallery/upload_bytes", "Bytes of successfully uploaded images", stats.UnitBytes)
)

var (
	OperationCountView = &view.View{
		Name:        "cloudgallery/gallery/operation_count",
		Measure:     opCount,
		Description: "Count of gallery operations by kind and outcome",
		TagKeys:     []tag.Key{keyOp, keyOutcome},
		Aggregation: view.Count(),
	}

	UploadBytesView = &view.View{
		Name:        "cloudgallery/gallery/upload_bytes",
		Measure:     uploadBytes,
		Description: "Distribution of uploaded image sizes",
		Aggregation: view.Distribution(0, 64<<10, 256<<10, 1<<20, 4<<20, 16<<20, 64<<20),
	}
)

// RegisterViews registers the gallery's views with the default exporter
// pipeline.
func RegisterViews() error {
	return view.Register(OperationCountView, UploadBytesView)
}

func recordOp(ctx context.Context, op string, err error) {
	outcome := "OK"
	if err != nil {
		outcome = galleryerr.KindOf(err).String()
	}
	stats.RecordWithTags(ctx, []tag.Mutator{
		tag.Upsert(keyOp, op),
		tag.Upsert(keyOutcome, outcome),
	}, opCount.M(1))
}

func recordUploadBytes(ctx context.Context, n int64) {
	stats.Record(ctx, uploadBytes.M(n))
}
