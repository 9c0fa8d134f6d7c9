package httpmetrics

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opencensus.io/stats/view"
)

func TestRequestsAreCountedByRouteAndCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	h := New(mux, "/gallery")
	if err := h.RegisterMetrics(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer view.Unregister(h.View())

	for _, target := range []string{"/gallery", "/gallery", "/wp-login.php"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	rows, err := view.RetrieveData(h.View().Name)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	type row struct {
		Path  string
		Code  string
		Count int64
	}
	got := []row{}
	for _, r := range rows {
		tags := map[string]string{}
		for _, tg := range r.Tags {
			tags[tg.Key.Name()] = tg.Value
		}
		got = append(got, row{Path: tags["path"], Code: tags["code"], Count: r.Data.(*view.CountData).Value})
	}
	sort.Slice(got, func(i, j int) bool { return got[i].Path < got[j].Path })

	want := []row{
		{Path: "/gallery", Code: "200", Count: 2},
		{Path: "other", Code: "404", Count: 1},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Bad rows; diff (-got +want)\n%s", diff)
	}
}
