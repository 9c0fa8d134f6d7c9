package uitemplates

type GalleryImage struct {
	ID         string
	URL        string
	Name       string
	Created    string
	DeleteLink string
}

type GalleryParams struct {
	ProjectLabel string
	State        string
	Images       []*GalleryImage

	Uploading      bool
	UploadFileName string
	UploadPercent  int

	Error *ErrorParams
}

var galleryText = `
{{define "title"}}Gallery{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item active" aria-current="page">Gallery</li>
{{- end}}

{{define "content"}}
<div class="d-flex justify-content-between align-items-center">
  <h1>Gallery</h1>
  <span class="badge text-bg-secondary">{{.ProjectLabel}} &middot; {{.State}}</span>
</div>

{{template "error" .Error}}

<form id="upload-form" method="POST" action="/upload" enctype="multipart/form-data" class="my-3">
  <div class="input-group">
    <input type="file" class="form-control" name="image" accept="image/*" required{{if .Uploading}} disabled{{end}}>
    <button type="submit" class="btn btn-primary"{{if .Uploading}} disabled{{end}}>Upload</button>
  </div>
</form>

<div id="upload-status" class="my-3"{{if not .Uploading}} hidden{{end}}>
  <p class="mb-1">Uploading <span id="upload-name">{{.UploadFileName}}</span></p>
  <div class="progress" role="progressbar" aria-valuemin="0" aria-valuemax="100">
    <div id="upload-bar" class="progress-bar" style="width: {{.UploadPercent}}%">{{.UploadPercent}}%</div>
  </div>
</div>

<form method="POST" action="/refresh" class="mb-3">
  <button type="submit" class="btn btn-sm btn-outline-secondary">Refresh</button>
</form>

{{if .Images}}
<div class="row row-cols-1 row-cols-md-3 g-3">
  {{range .Images}}
  <div class="col">
    <div class="card h-100">
      <img src="{{.URL}}" class="card-img-top" alt="{{.Name}}" loading="lazy">
      <div class="card-body">
        <p class="card-text text-truncate" title="{{.Name}}">{{.Name}}</p>
        <p class="card-text small text-muted">{{.Created}}</p>
        <a href="{{.DeleteLink}}" class="btn btn-sm btn-outline-danger">Delete</a>
      </div>
    </div>
  </div>
  {{end}}
</div>
{{else}}
<p class="text-muted">No images yet.</p>
{{end}}
{{end}}

{{define "scripts"}}
<script>
(function() {
  const status = document.getElementById("upload-status");
  const bar = document.getElementById("upload-bar");
  function poll() {
    fetch("/upload-progress")
      .then(function(resp) { return resp.json(); })
      .then(function(p) {
        const pct = Math.round(p.percent);
        bar.style.width = pct + "%";
        bar.textContent = pct + "%";
      })
      .finally(function() { setTimeout(poll, 500); });
  }
  document.getElementById("upload-form").addEventListener("submit", function() {
    status.hidden = false;
    poll();
  });
  if (!status.hidden) {
    poll();
  }
})();
</script>
{{end}}
`

var galleryTemplate = newPageTemplate(galleryText)

func GalleryPage(params *GalleryParams) ([]byte, error) {
	return execute(galleryTemplate, params)
}
