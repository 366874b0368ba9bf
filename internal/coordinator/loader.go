// internal/coordinator/loader.go
package coordinator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"release-orchestrator/internal/domain"

	"gopkg.in/yaml.v3"
)

// TemplateContext is what declaration files are rendered against.
type TemplateContext struct {
	Env       map[string]string
	ProjectID string
	CloudID   string
	Location  string
	Bucket    string
}

// declarations are the rendered cluster files of a test.
type declarations struct {
	// clusterConfig is the rendered raw cluster config, empty when the test
	// uses a managed environment.
	clusterConfig string
	spec          *domain.EnvironmentSpec
}

func loadDeclarations(def *domain.TestDefinition, tctx TemplateContext) (*declarations, error) {
	decl := &declarations{spec: &domain.EnvironmentSpec{}}

	if def.Cluster.ClusterConfig != "" {
		text, doc, err := renderFile(def.LocalDir, def.Cluster.ClusterConfig, tctx)
		if err != nil {
			return nil, err
		}
		decl.clusterConfig = text
		decl.spec.ClusterConfig = doc
		return decl, nil
	}

	var err error
	if def.Cluster.AppConfig != "" {
		if _, decl.spec.AppConfig, err = renderFile(def.LocalDir, def.Cluster.AppConfig, tctx); err != nil {
			return nil, err
		}
	}
	if def.Cluster.ComputeTemplate != "" {
		if _, decl.spec.ComputeTemplate, err = renderFile(def.LocalDir, def.Cluster.ComputeTemplate, tctx); err != nil {
			return nil, err
		}
	}
	if decl.spec.AppConfig == nil || decl.spec.ComputeTemplate == nil {
		return nil, fmt.Errorf("test %s declares neither a cluster config nor an app config and compute template", def.Name)
	}
	return decl, nil
}

// renderFile executes a declaration file as a template and decodes the
// result as a YAML mapping.
func renderFile(dir, name string, tctx TemplateContext) (string, map[string]any, error) {
	path := filepath.Join(dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read declaration %s: %w", path, err)
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tctx); err != nil {
		return "", nil, fmt.Errorf("failed to render %s: %w", path, err)
	}

	doc := map[string]any{}
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		return "", nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return buf.String(), doc, nil
}
