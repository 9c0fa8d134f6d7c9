package healthz

import "net/http"

// Handler answers health probes.  A handler with a check reports 503 until
// the check passes.
type Handler struct {
	check func() error
}

func New() *Handler {
	return &Handler{}
}

// NewReadiness returns a handler gated on check.
func NewReadiness(check func() error) *Handler {
	return &Handler{check: check}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		if err := h.check(); err != nil {
			http.Error(w, "503 Service Unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("200 OK"))
}
