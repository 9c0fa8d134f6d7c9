// Package httpmetrics counts requests served by an http.Handler, tagged with
// the route and response code.
package httpmetrics

import (
	"net/http"
	"strconv"

	"github.com/golang/glog"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	keyPath = tag.MustNewKey("path")
	keyCode = tag.MustNewKey("code")
)

type Wrapper struct {
	requestCount     *stats.Int64Measure
	requestCountView *view.View

	// routes maps known request paths to their tag value.  Anything else is
	// tagged "other" so scanners cannot blow up the tag space.
	routes map[string]bool

	inner http.Handler
}

// New wraps inner.  routes lists the paths worth their own tag value.
func New(inner http.Handler, routes ...string) *Wrapper {
	h := &Wrapper{
		routes: map[string]bool{},
		inner:  inner,
	}

	h.requestCount = stats.Int64("cloudgallery/http/requests", "Requests handled by the UI server", stats.UnitDimensionless)
	h.requestCountView = &view.View{
		Name:        "cloudgallery/http/request_count",
		Description: "Counter of requests that have been handled",

		TagKeys: []tag.Key{keyPath, keyCode},

		Measure:     h.requestCount,
		Aggregation: view.Count(),
	}

	for _, r := range routes {
		h.routes[r] = true
	}

	return h
}

func (h *Wrapper) RegisterMetrics() error {
	return view.Register(h.requestCountView)
}

// View is the request count view, for reading back in tests and exporters.
func (h *Wrapper) View() *view.View {
	return h.requestCountView
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Wrapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
	h.inner.ServeHTTP(rec, r)

	path := r.URL.Path
	if !h.routes[path] {
		path = "other"
	}

	glog.V(1).Infof("Served method=%s path=%q code=%d", r.Method, r.URL.Path, rec.code)

	stats.RecordWithOptions(
		r.Context(),
		stats.WithTags(
			tag.Insert(keyPath, path),
			tag.Insert(keyCode, strconv.Itoa(rec.code)),
		),
		stats.WithMeasurements(h.requestCount.M(1)))
}
