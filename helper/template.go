package helper

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"text/template"
)

func process(t *template.Template, vars any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// InterpolateFS renders the template at filePath inside fsys.
func InterpolateFS(fsys fs.FS, filePath string, vars any) (string, error) {
	tmpl, err := template.New("").Option("missingkey=error").ParseFS(fsys, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", filePath, err)
	}
	// ParseFS names the template after the file's base name.
	named := tmpl.Lookup(path.Base(filePath))
	if named == nil {
		return "", fmt.Errorf("template %s not found", filePath)
	}
	return process(named, vars)
}
