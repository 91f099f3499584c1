// Package model holds the statically-typed view of the external build tool's
// project model. Values are decoded once at fetch time and never re-proxied.
package model

// Module kinds reported by the build tool.
const (
	KindApp     = "app"
	KindLibrary = "library"
	KindJava    = "java"
)

// Project is the root of a fetched model.
type Project struct {
	ModelVersion string   `json:"modelVersion"`
	ToolVersion  string   `json:"toolVersion"`
	Name         string   `json:"name"`
	Root         string   `json:"root"`
	Modules      []Module `json:"modules"`
}

// Module is one build-tool project.
// Identity is the tool's own path for the module (e.g. ":lib") and is what
// sibling references point at; Name is the display name.
type Module struct {
	Name         string       `json:"name"`
	Identity     string       `json:"identity"`
	Root         string       `json:"root"`
	Kind         string       `json:"kind"`
	BuildFiles   []string     `json:"buildFiles,omitempty"`
	Variants     []Variant    `json:"variants,omitempty"`
	Dependencies Dependencies `json:"dependencies,omitempty"`
}

// Variant carries the dependency lists resolved for one build variant.
type Variant struct {
	Name             string       `json:"name"`
	Dependencies     Dependencies `json:"dependencies"`
	TestDependencies Dependencies `json:"testDependencies,omitempty"`
}

// Dependencies is an external dependency list split by artifact kind.
type Dependencies struct {
	Binaries  []Binary          `json:"binaries,omitempty"`
	Libraries []LibraryArtifact `json:"libraries,omitempty"`
	Modules   []ModuleRef       `json:"modules,omitempty"`
}

// Binary is a plain binary artifact (a jar) with optional attached roots.
type Binary struct {
	Path   string `json:"path"`
	Source string `json:"source,omitempty"`
	Doc    string `json:"doc,omitempty"`
}

// LibraryArtifact is a packaged library with its own dependency list. When
// Module is set the artifact was produced by a sibling module and
// ExpectedVariant names the variant the consumer was built against.
type LibraryArtifact struct {
	Bundle          string       `json:"bundle"`
	Source          string       `json:"source,omitempty"`
	Doc             string       `json:"doc,omitempty"`
	Module          string       `json:"module,omitempty"`
	ExpectedVariant string       `json:"expectedVariant,omitempty"`
	Dependencies    Dependencies `json:"dependencies,omitempty"`
}

// ModuleRef is a direct reference to a sibling module.
type ModuleRef struct {
	Identity string `json:"identity"`
}

// VariantNames lists the candidate variants in model order.
func (m *Module) VariantNames() []string {
	out := make([]string, 0, len(m.Variants))
	for _, v := range m.Variants {
		out = append(out, v.Name)
	}
	return out
}

// Variant returns the variant with the given name.
func (m *Module) Variant(name string) (*Variant, bool) {
	for i := range m.Variants {
		if m.Variants[i].Name == name {
			return &m.Variants[i], true
		}
	}
	return nil, false
}

// HasVariants reports whether the module kind is expected to declare build
// variants. Plain java modules are variant-less.
func (m *Module) HasVariants() bool {
	return m.Kind != KindJava
}

// ModuleByIdentity finds a module by its tool identity.
func (p *Project) ModuleByIdentity(identity string) (*Module, bool) {
	for i := range p.Modules {
		if p.Modules[i].Identity == identity {
			return &p.Modules[i], true
		}
	}
	return nil, false
}
