package uitemplates

type SetupParams struct {
	ProjectLabel string
	Linked       bool

	// Candidate is the text the user last submitted, echoed back on failure.
	Candidate string

	Error *ErrorParams
}

var setupText = `
{{define "title"}}Setup{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item"><a href="/gallery">Gallery</a></li>
<li class="breadcrumb-item active" aria-current="page">Setup</li>
{{- end}}

{{define "content"}}
<h1>Link a Firebase project</h1>

{{if .Linked}}
<p>Currently linked to <strong>{{.ProjectLabel}}</strong>.  A new configuration replaces it once it passes the connection test.</p>
{{else}}
<p>No project is linked.</p>
{{end}}

<ol>
  <li>Open the Firebase console and select your project.</li>
  <li>Under Project settings, find your web app and copy its <code>firebaseConfig</code>.</li>
  <li>Paste it below, either as JSON or exactly as the console shows it.</li>
</ol>

{{template "error" .Error}}

<form method="POST" action="/setup">
  <div class="mb-3">
    <label for="config" class="form-label">Web configuration</label>
    <textarea class="form-control font-monospace" id="config" name="config" rows="10" required>{{.Candidate}}</textarea>
  </div>
  <button type="submit" class="btn btn-primary">Test and link</button>
</form>

{{if .Linked}}
<form method="POST" action="/disconnect" class="mt-4">
  <button type="submit" class="btn btn-outline-danger">Unlink project</button>
</form>
{{end}}
{{end}}
`

var setupTemplate = newPageTemplate(setupText)

func SetupPage(params *SetupParams) ([]byte, error) {
	return execute(setupTemplate, params)
}
