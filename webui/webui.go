package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"cloudgallery/config"
	"cloudgallery/gallery"
	"cloudgallery/galleryerr"
	"cloudgallery/objstore"
	"cloudgallery/probe"
	"cloudgallery/webui/uitemplates"

	"github.com/golang/glog"
)

// maxUploadBytes bounds the multipart body of a single upload.
const maxUploadBytes = 64 << 20

var ErrNotLinked = errors.New("no project is linked")

// Routes lists the paths Register serves.
var Routes = []string{"/", "/research", "/gallery", "/setup", "/disconnect", "/upload", "/upload-progress", "/delete", "/refresh"}

// ConfigStore is the persisted configuration slot.
type ConfigStore interface {
	Load() (*config.Configuration, bool)
	Save(cfg *config.Configuration) error
	Clear() error
}

type WebUI struct {
	// ctx scopes the gallery sessions, which outlive any one request.
	ctx    context.Context
	store  ConfigStore
	dialer objstore.Dialer
	tester *probe.Tester

	mu      sync.Mutex
	cfg     *config.Configuration
	session objstore.Session
	gallery *gallery.Reconciler
}

// New builds the UI and adopts the stored configuration, if there is a usable
// one.  ctx bounds the lifetime of gallery sessions.
func New(ctx context.Context, store ConfigStore, dialer objstore.Dialer) *WebUI {
	u := &WebUI{
		ctx:    ctx,
		store:  store,
		dialer: dialer,
		tester: probe.New(dialer, store),
	}

	if cfg, ok := store.Load(); ok && cfg.IsUsable() {
		if err := u.adopt(cfg); err != nil {
			glog.Errorf("Error while adopting stored configuration: %v", err)
		}
	}

	return u
}

func (u *WebUI) Register(m *http.ServeMux) {
	m.HandleFunc("/", u.rootHandler)
	m.HandleFunc("/research", u.researchHandler)
	m.HandleFunc("/gallery", u.galleryHandler)
	m.HandleFunc("/setup", u.setupHandler)
	m.HandleFunc("/disconnect", u.disconnectHandler)
	m.HandleFunc("/upload", u.uploadHandler)
	m.HandleFunc("/upload-progress", u.uploadProgressHandler)
	m.HandleFunc("/delete", u.deleteHandler)
	m.HandleFunc("/refresh", u.refreshHandler)
}

// Ready reports whether a tested configuration is adopted.
func (u *WebUI) Ready() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gallery == nil {
		return ErrNotLinked
	}
	return nil
}

// Close releases the gallery session.
func (u *WebUI) Close() error {
	u.mu.Lock()
	session := u.session
	u.cfg, u.session, u.gallery = nil, nil, nil
	u.mu.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

// adopt dials a fresh gallery session for cfg, replaces any current one and
// loads the collection.
func (u *WebUI) adopt(cfg *config.Configuration) error {
	name := objstore.SessionName("gallery")
	session, err := u.dialer.Dial(u.ctx, cfg, name)
	if err != nil {
		return fmt.Errorf("while dialing gallery session: %w", err)
	}
	g := gallery.New(session)

	u.mu.Lock()
	old := u.session
	u.cfg, u.session, u.gallery = cfg, session, g
	u.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			glog.Errorf("Error while closing session %s: %v", old.Name(), err)
		}
	}

	glog.Infof("Gallery session %s opened on bucket %q", name, cfg.StorageBucket)

	// A failed first listing is shown on the gallery page.
	if err := g.Refresh(u.ctx); err != nil {
		glog.Infof("Initial listing failed: %v", err)
	}
	return nil
}

func (u *WebUI) current() (*config.Configuration, *gallery.Reconciler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cfg, u.gallery
}

func writePage(w http.ResponseWriter, page []byte, err error) {
	if err != nil {
		glog.Errorf("Error while rendering page: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		// It's too late to write an error to the HTTP response.
		glog.Errorf("Error while writing output: %v", err)
	}
}

func errorParams(gerr *galleryerr.Error) *uitemplates.ErrorParams {
	if gerr == nil {
		return nil
	}
	return &uitemplates.ErrorParams{
		Kind:        gerr.Kind.String(),
		Title:       gerr.Title,
		Remediation: gerr.Remediation,
		Snippet:     gerr.Snippet,
	}
}

func (u *WebUI) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, "/research", http.StatusFound)
}

func (u *WebUI) researchHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/research" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	cfg, _ := u.current()
	page, err := uitemplates.ResearchPage(&uitemplates.ResearchParams{
		ProjectLabel: cfg.DisplayLabel(),
		Linked:       cfg.IsUsable(),
	})
	writePage(w, page, err)
}

func (u *WebUI) galleryHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/gallery" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	cfg, g := u.current()
	if g == nil {
		http.Redirect(w, r, "/setup", http.StatusFound)
		return
	}

	snap := g.Snapshot()
	params := &uitemplates.GalleryParams{
		ProjectLabel: cfg.DisplayLabel(),
		State:        snap.State.String(),
		Error:        errorParams(snap.Err),
	}
	for _, img := range snap.Images {
		params.Images = append(params.Images, &uitemplates.GalleryImage{
			ID:         img.ID,
			URL:        img.URL,
			Name:       img.Name,
			Created:    img.CreatedAt.Format(time.RFC3339),
			DeleteLink: deleteLink(img.ID),
		})
	}
	if snap.Upload != nil {
		params.Uploading = true
		params.UploadFileName = snap.Upload.FileName
		params.UploadPercent = int(snap.Upload.Percent)
	}

	page, err := uitemplates.GalleryPage(params)
	writePage(w, page, err)
}

func deleteLink(id string) string {
	q := url.Values{}
	q.Add("id", id)
	link := &url.URL{
		Path:     "/delete",
		RawQuery: q.Encode(),
	}
	return link.String()
}

func (u *WebUI) setupHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/setup" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		u.renderSetup(w, "", nil)
	case http.MethodPost:
		u.setupPostHandler(w, r)
	default:
		glog.Errorf("Returning Bad Request because setupHandler doesn't support method %q", r.Method)
		http.Error(w, "Bad Request", http.StatusBadRequest)
	}
}

func (u *WebUI) renderSetup(w http.ResponseWriter, candidate string, gerr *galleryerr.Error) {
	cfg, _ := u.current()
	page, err := uitemplates.SetupPage(&uitemplates.SetupParams{
		ProjectLabel: cfg.DisplayLabel(),
		Linked:       cfg.IsUsable(),
		Candidate:    candidate,
		Error:        errorParams(gerr),
	})
	writePage(w, page, err)
}

func (u *WebUI) setupPostHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	candidate := r.PostForm.Get("config")
	cfg, err := u.tester.Test(r.Context(), candidate)
	if err != nil {
		var gerr *galleryerr.Error
		if !errors.As(err, &gerr) {
			glog.Errorf("Error while testing configuration: %v", err)
			http.Error(w, "Internal Error", http.StatusInternalServerError)
			return
		}
		u.renderSetup(w, candidate, gerr)
		return
	}

	if err := u.adopt(cfg); err != nil {
		glog.Errorf("Error while adopting configuration: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/gallery", http.StatusSeeOther)
}

func (u *WebUI) disconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/disconnect" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := u.store.Clear(); err != nil {
		glog.Errorf("Error while clearing stored configuration: %v", err)
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}
	if err := u.Close(); err != nil {
		glog.Errorf("Error while closing gallery session: %v", err)
	}

	http.Redirect(w, r, "/setup", http.StatusSeeOther)
}

func (u *WebUI) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/upload" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	_, g := u.current()
	if g == nil {
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		glog.Errorf("Error while reading uploaded file: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer file.Close()

	session, err := g.Upload(r.Context(), gallery.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if errors.Is(err, gallery.ErrUploadInProgress) {
		http.Error(w, "An upload is already in progress", http.StatusConflict)
		return
	}
	if err == nil {
		// The form file is only valid until this handler returns.
		if err := session.Wait(r.Context()); err != nil {
			glog.Infof("Upload of %q failed: %v", header.Filename, err)
		}
	}

	// Failures are recorded in the reconciler and shown on the gallery page.
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)
}

type uploadProgress struct {
	State     string  `json:"state"`
	Uploading bool    `json:"uploading"`
	FileName  string  `json:"fileName,omitempty"`
	Percent   float64 `json:"percent"`
}

func (u *WebUI) uploadProgressHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/upload-progress" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	_, g := u.current()
	if g == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	snap := g.Snapshot()
	resp := uploadProgress{State: snap.State.String()}
	if snap.Upload != nil {
		resp.Uploading = true
		resp.FileName = snap.Upload.FileName
		resp.Percent = snap.Upload.Percent
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		glog.Errorf("Error while writing output: %v", err)
	}
}

func (u *WebUI) deleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/delete" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	_, g := u.current()
	if g == nil {
		http.Redirect(w, r, "/setup", http.StatusFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		u.deleteGetHandler(w, r, g)
	case http.MethodPost:
		u.deletePostHandler(w, r, g)
	default:
		glog.Errorf("Returning Bad Request because deleteHandler doesn't support method %q", r.Method)
		http.Error(w, "Bad Request", http.StatusBadRequest)
	}
}

// deleteGetHandler renders the confirmation step of a delete.
func (u *WebUI) deleteGetHandler(w http.ResponseWriter, r *http.Request, g *gallery.Reconciler) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	params := &uitemplates.DeleteImageParams{
		ID:     id,
		Name:   path.Base(id),
		Prompt: gallery.DeletePrompt,
	}
	for _, img := range g.Snapshot().Images {
		if img.ID == id {
			params.URL = img.URL
		}
	}

	page, err := uitemplates.DeleteImagePage(params)
	writePage(w, page, err)
}

func (u *WebUI) deletePostHandler(w http.ResponseWriter, r *http.Request, g *gallery.Reconciler) {
	if err := r.ParseForm(); err != nil {
		glog.Errorf("Error while parsing form: %v", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	id := r.PostForm.Get("id")
	confirmed := func(string) bool {
		return r.PostForm.Get("confirm") == "yes"
	}
	if err := g.Delete(r.Context(), id, confirmed); err != nil {
		glog.Infof("Delete of %q failed: %v", id, err)
	}

	http.Redirect(w, r, "/gallery", http.StatusSeeOther)
}

func (u *WebUI) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/refresh" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	_, g := u.current()
	if g == nil {
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}

	if err := g.Refresh(r.Context()); err != nil {
		glog.Infof("Refresh failed: %v", err)
	}
	http.Redirect(w, r, "/gallery", http.StatusSeeOther)
}
