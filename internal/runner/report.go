// internal/runner/report.go
package runner

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xkilldash9x/watchdog-cli/internal/watchdog"
)

const (
	outputFile = "output.txt"
	indexFile  = "index.html"

	reportDateLayout = "January 02, 2006 15:04:05 MST"
)

var indexTemplate = template.Must(template.New("index").Parse(`<html>
<head><title>Watchdog - {{.DateLocal}}</title></head>
<body>
    <h1>Watchdog Log</h1>
    <h2>Date local: {{.DateLocal}}</h2>
    <h2>Date GMT: {{.DateGlobal}}</h2>
    <ul>
{{- range .Files}}
        <li><a href="{{.}}">{{.}}</a></li>
{{- end}}
    </ul>
</body>
</html>
`))

type indexData struct {
	DateLocal  string
	DateGlobal string
	Files      []string
}

// writeOutput records the failure summary the way an operator reads it first.
func writeOutput(runDir string, out watchdog.Outcome, took time.Duration) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Website watchdog FAILED, taking %.1f seconds\n", took.Seconds())
	if kind := out.Kind(); kind != 0 {
		fmt.Fprintf(&b, "kind: %s\n", kind)
	}
	if out.Stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", out.Stage)
	}
	if out.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", out.Reason)
	}
	if out.Err != nil {
		fmt.Fprintf(&b, "error: %v\n", out.Err)
	}
	for _, a := range out.Artifacts {
		fmt.Fprintf(&b, "artifact: %s\n", filepath.Base(a))
	}
	return os.WriteFile(filepath.Join(runDir, outputFile), []byte(b.String()), 0o644)
}

// writeIndex lists the run directory's files with local and global dates.
func writeIndex(runDir string, local, global time.Time) error {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("reading run directory: %w", err)
	}
	data := indexData{
		DateLocal:  local.Format(reportDateLayout),
		DateGlobal: global.Format(reportDateLayout),
	}
	for _, e := range entries {
		if e.Name() == indexFile {
			continue
		}
		data.Files = append(data.Files, e.Name())
	}
	sort.Strings(data.Files)

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return fmt.Errorf("rendering index: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, indexFile), buf.Bytes(), 0o644)
}

// reportLink joins the public report base with the run directory name.
func reportLink(base, runDir string) string {
	if base == "" {
		return ""
	}
	return base + filepath.Base(runDir)
}
