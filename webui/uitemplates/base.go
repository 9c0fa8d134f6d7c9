package uitemplates

import (
	"bytes"
	"fmt"
	"html/template"
)

var baseText = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{block "title" .}}Title{{end}} - Cloud Gallery</title>
    <link href="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/css/bootstrap.min.css" rel="stylesheet" integrity="sha384-GLhlTQ8iRABdZLl6O3oVMWSktQOp6b7In1Zl3/Jr59b6EGGoI1aFkw7cmDA6j6gD" crossorigin="anonymous">
  </head>
  <body>
    <div class="container">
      <nav class="navbar navbar-expand bg-body-tertiary">
        <div class="container-fluid">
          <a class="navbar-brand" href="/">Cloud Gallery</a>
          <ul class="navbar-nav">
            <li class="nav-item"><a class="nav-link" href="/research">Research</a></li>
            <li class="nav-item"><a class="nav-link" href="/gallery">Gallery</a></li>
            <li class="nav-item"><a class="nav-link" href="/setup">Setup</a></li>
          </ul>
        </div>
      </nav>

      <nav aria-label="breadcrumb" class="border-bottom mt-3 mb-3">
        <ol class="breadcrumb">
          {{block "breadcrumbs" .}}{{end}}
        </ol>
      </nav>

      <main>
        {{block "content" .}}{{end}}
      </main>
    </div>

    <script src="https://cdn.jsdelivr.net/npm/bootstrap@5.3.0-alpha1/dist/js/bootstrap.bundle.min.js" integrity="sha384-w76AqPfDkMBDXo30jS1Sgez6pr3x5MlQ1ZAGC+nuZB+EYdgRZgiwxhTBTkF7CXvN" crossorigin="anonymous"></script>
    {{block "scripts" .}}{{end}}
  </body>
</html>
`

// ErrorParams is a classified failure as shown to the user.
type ErrorParams struct {
	Kind        string
	Title       string
	Remediation string
	Snippet     string
}

var errorText = `
{{define "error"}}
{{with .}}
<div class="alert alert-danger" role="alert">
  <h4 class="alert-heading">{{.Title}}</h4>
  <p>{{.Remediation}}</p>
  {{if .Snippet}}
  <pre class="bg-light border p-2"><code>{{.Snippet}}</code></pre>
  {{end}}
  <p class="mb-0 small text-muted">{{.Kind}}</p>
</div>
{{end}}
{{end}}
`

// newPageTemplate parses a page's blocks over the base layout.
func newPageTemplate(pageText string) *template.Template {
	t := template.Must(template.New("base").Parse(baseText))
	t = template.Must(t.Parse(errorText))
	return template.Must(t.Parse(pageText))
}

func execute(t *template.Template, params interface{}) ([]byte, error) {
	b := bytes.Buffer{}
	if err := t.Execute(&b, params); err != nil {
		return nil, fmt.Errorf("while executing template: %w", err)
	}
	return b.Bytes(), nil
}
