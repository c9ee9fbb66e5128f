package servicesfile

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Loader handles loading and parsing of services.yaml
type Loader struct {
	filePath string
}

// NewLoader creates a new services file loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.filePath }

// Load reads and parses the services file
func (l *Loader) Load() (File, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read services file: %w", err)
	}

	// Secrets stay out of the file as {{ENV_NAME}} references
	data = expandTemplateVariables(data, os.LookupEnv)

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("failed to parse services yaml: %w", err)
	}

	return file, nil
}

// expandTemplateVariables replaces {{NAME}} with the quoted value of NAME.
// Unset variables become an empty string.
// Example: password: {{NAS_PASSWORD}} -> password: "s3cret"
func expandTemplateVariables(data []byte, lookup func(string) (string, bool)) []byte {
	return templateVar.ReplaceAllFunc(data, func(match []byte) []byte {
		name := templateVar.FindSubmatch(match)[1]
		value, _ := lookup(string(name))
		return []byte(quote(value))
	})
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
