package render

import (
	"html/template"
	"strings"

	"github.com/Mundokiir/email-reports/pkg/common"
)

var reportTmpl = template.Must(template.New("report").Parse(`<html>
<head></head>
<body>
{{if .Limit -}}
<p>Here is the data for: {{.Name}}.<br />
A sample of {{.Limit}} rows of data is shown here. See attached CSV for full results.</p>
{{- else -}}
<p>Here is the data for the {{.Name}} report. Total records found: {{.Total}}</p>
{{- end}}
<table style="width:100%; border: 1px solid black; border-collapse: collapse;">
<thead>
<tr>
{{range .Columns}}<th style="border: 1px solid black; border-collapse: collapse;">{{.}}</th>
{{end}}</tr>
</thead>
<tbody>
{{range .Rows}}<tr>
{{range .}}<td style="border: 1px solid black; border-collapse: collapse;">{{.}}</td>
{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

var summaryTmpl = template.Must(template.New("summary").Parse(`<html>
<head></head>
<body>
<p>{{.}}</p>

<p>Please see attached CSV file.</p>
</body>
</html>
`))

type reportData struct {
	Name    string
	Limit   int
	Total   int
	Columns []string
	Rows    [][]string
}

// HTML renders the report table. With a nonzero limit only the first limit
// documents are shown and the header always announces a sample of limit rows;
// with limit 0 every document is shown along with the total count.
func HTML(name string, columns []string, docs []common.Document, limit int) (string, error) {
	shown := docs
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}

	rows := make([][]string, len(shown))
	for i, doc := range shown {
		rows[i] = doc.Values(columns)
	}

	var sb strings.Builder
	err := reportTmpl.Execute(&sb, reportData{
		Name:    name,
		Limit:   limit,
		Total:   len(docs),
		Columns: columns,
		Rows:    rows,
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Summary renders the body used when results are not shown inline
func Summary(name string) (string, error) {
	var sb strings.Builder
	if err := summaryTmpl.Execute(&sb, name); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// PlainText is the fallback part for clients that do not render HTML
func PlainText(name string) string {
	return name + "\n\nPlease see attached CSV file."
}
