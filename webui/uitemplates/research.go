package uitemplates

type ResearchParams struct {
	// ProjectLabel is the linked project id, or "not linked".
	ProjectLabel string
	Linked       bool
}

var researchText = `
{{define "title"}}Research{{end}}

{{define "breadcrumbs" -}}
<li class="breadcrumb-item active" aria-current="page">Research</li>
{{- end}}

{{define "content"}}
{{if .Linked}}
<p class="text-end small text-success">Cloud connected: {{.ProjectLabel}}</p>
{{end}}

<section class="text-center my-5">
  <h1 class="display-5">Advanced Database Architecture in Cloud Computing Environments</h1>
  <p class="lead">An applied study of Firebase as a model of NoSQL databases and media management</p>
  <p class="text-muted">Linked project: {{.ProjectLabel}}</p>
</section>

<section class="my-5">
  <h2>1. Introduction</h2>
  <p>
    As distributed systems and data volumes grew, database engineering moved
    from traditional relational models toward models built for flexibility
    and horizontal scale.  Firebase is an example of the "backend as a
    service" approach, where storage, access rules and delivery are operated
    by the platform.
  </p>
</section>

<section class="my-5">
  <h2>2. NoSQL structure in Firebase</h2>
  <p>
    Document data for {{if .Linked}}{{.ProjectLabel}}{{else}}your project{{end}}
    lives in Firestore collections, which support real-time queries over
    nested documents.
  </p>
  <div class="border border-2 border-dashed rounded p-4 text-center text-muted">
    <p>Screenshot 1: Firebase Console, Firestore Database structure.</p>
  </div>
</section>

<section class="my-5">
  <h2>3. Media management (Storage)</h2>
  <p>
    Media files are objects in a Cloud Storage bucket.  The gallery in this
    application stores each image under the <code>gallery/</code> folder and
    lists that folder to build its view.
  </p>
  <div class="border border-2 border-dashed rounded p-4 text-center text-muted">
    <p>Screenshot 2: Firebase Console, Storage bucket with uploaded files.</p>
  </div>
</section>

{{if .Linked}}
<p class="alert alert-success">Project link to {{.ProjectLabel}} verified.</p>
{{end}}
{{end}}
`

var researchTemplate = newPageTemplate(researchText)

func ResearchPage(params *ResearchParams) ([]byte, error) {
	return execute(researchTemplate, params)
}
