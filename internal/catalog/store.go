package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kaptinlin/jsonschema"
)

const (
	// Dir is the per-project directory holding docket state.
	Dir = ".docket"
	// File is the catalog filename inside Dir.
	File = "catalog.yaml"
)

// ErrNotFound is returned when a project has no catalog file.
var ErrNotFound = errors.New("catalog not found")

//go:embed schema.json
var schemaJSON []byte

// Store defines the persistence interface for catalogs.
// Abstracted for testability (DIP).
type Store interface {
	Load(projectRoot string) (*Catalog, error)
	Save(projectRoot string, c *Catalog) error
}

// FileStore implements Store using the local filesystem.
type FileStore struct {
	schema *jsonschema.Schema
}

// NewFileStore creates a filesystem-backed catalog store. It fails only if
// the embedded schema does not compile.
func NewFileStore() (*FileStore, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("catalog: compile schema: %w", err)
	}
	return &FileStore{schema: schema}, nil
}

// DirPath returns the absolute path to the project's .docket/ directory.
func DirPath(projectRoot string) string {
	return filepath.Join(projectRoot, Dir)
}

// Path returns the absolute path to the project's catalog file.
func Path(projectRoot string) string {
	return filepath.Join(DirPath(projectRoot), File)
}

// Exists reports whether projectRoot has a catalog file.
func Exists(projectRoot string) bool {
	_, err := os.Stat(Path(projectRoot))
	return err == nil
}

// Load reads, validates and normalizes the catalog of projectRoot.
func (fs *FileStore) Load(projectRoot string) (*Catalog, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}

	path := Path(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	cat, err := fs.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cat.normalize(root)
	return cat, nil
}

// Parse validates raw YAML against the catalog schema and decodes it. The
// result is not normalized; Load does that relative to the project root.
func (fs *FileStore) Parse(data []byte) (*Catalog, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("parsing catalog yaml: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("converting catalog to json: %w", err)
	}
	if result := fs.schema.ValidateJSON(asJSON); !result.IsValid() {
		return nil, fmt.Errorf("catalog schema validation failed: %v", result.Errors)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return &cat, nil
}

// Save writes c to the project's catalog file, creating .docket/ as needed.
func (fs *FileStore) Save(projectRoot string, c *Catalog) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}
	if _, err := fs.Parse(data); err != nil {
		return fmt.Errorf("refusing to save invalid catalog: %w", err)
	}

	dir := DirPath(projectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating catalog directory: %w", err)
	}
	return os.WriteFile(Path(projectRoot), data, 0o644)
}

// normalize fills category names from map keys and anchors local
// directories at the project root.
func (c *Catalog) normalize(root string) {
	c.Root = root
	if c.Project == "" {
		c.Project = filepath.Base(root)
	}
	for name, cat := range c.Categories {
		cat.Name = name
		if cat.Local != nil {
			local := *cat.Local
			if !filepath.IsAbs(local.Dir) {
				local.Dir = filepath.Join(root, local.Dir)
			}
			local.Dir = filepath.Clean(local.Dir)
			cat.Local = &local
		}
		c.Categories[name] = cat
	}
}
