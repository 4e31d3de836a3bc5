package server

import (
	"html/template"
	"io"
	"log"
	"net/http"

	"github.com/microcosm-cc/bluemonday"

	"github.com/umputun/feedproxy/pkg/config"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Feeds</title>
<style type="text/css">
* {
    font-family: sans-serif;
}
</style>
</head>
<body>
<h1>Feeds</h1>
<ul>
{{- range .}}
<li><a href="{{.Path}}">{{.Path}}</a>{{if .Comment}}<i> ({{.Comment}})</i>{{end}}</li>
{{- end}}
</ul>
</body>
</html>
`))

type indexEntry struct {
	Path    string
	Comment template.HTML
}

// renderIndex writes the html list of feeds in config order.
// Comments are stripped of any markup by bluemonday before rendering.
func renderIndex(w io.Writer, feeds []config.Feed) error {
	policy := bluemonday.StrictPolicy()
	entries := make([]indexEntry, 0, len(feeds))
	for _, f := range feeds {
		entries = append(entries, indexEntry{
			Path:    f.FullPath(),
			Comment: template.HTML(policy.Sanitize(f.Comment)), //nolint:gosec // sanitized by strict policy
		})
	}
	return indexTemplate.Execute(w, entries)
}

// indexHandler serves GET /
func (s *Server) indexHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderIndex(w, s.feeds.Feeds); err != nil {
		log.Printf("[ERROR] can't render index: %v", err)
	}
}
