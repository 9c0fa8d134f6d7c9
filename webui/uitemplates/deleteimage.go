package uitemplates

type DeleteImageParams struct {
	ID     string
	Name   string
	URL    string
	Prompt string
}

var deleteImageText = `
{{define "title"}}Delete Image{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/gallery">Gallery</a></li>
<li class="breadcrumb-item active" aria-current="page">Delete</li>
{{- end}}

{{define "content"}}
<h1>Delete {{.Name}}</h1>

{{if .URL}}<img src="{{.URL}}" alt="{{.Name}}" class="img-thumbnail mb-3" style="max-width: 240px">{{end}}

<p>{{.Prompt}}</p>

<form method="POST" action="/delete">
  <input type="hidden" name="id" value="{{.ID}}">
  <button type="submit" name="confirm" value="yes" class="btn btn-danger">Delete</button>
  <button type="submit" name="confirm" value="no" class="btn btn-secondary">Cancel</button>
</form>
{{end}}
`

var deleteImageTemplate = newPageTemplate(deleteImageText)

func DeleteImagePage(params *DeleteImageParams) ([]byte, error) {
	return execute(deleteImageTemplate, params)
}
