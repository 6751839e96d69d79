package assets

import (
	"os"
	"path/filepath"
)

/**
 * @brief Turns the bytes of a file into an asset value. Loaders run on the
 * loading goroutines and must not touch the server other than through the
 * LoadContext.
 */
type Loader interface {
	Kind() Kind
	// Lower case file suffixes including the dot. The longest matching
	// suffix wins, so ".rgen.spv" can be told apart from ".spv".
	Extensions() []string
	Load(ctx *LoadContext, data []byte) (any, error)
}

// Labeled is a sub asset produced while loading a file.
type Labeled struct {
	Label string
	Kind  Kind
	Value any
}

// Composite values register further assets under "path#label".
type Composite interface {
	Labeled() []Labeled
}

type LoadContext struct {
	// Path of the file being loaded, relative to the root.
	Path string
	root string
	// other files read while loading
	reads []string
}

// Read loads another file under the root. A change to it reloads the asset
// being loaded.
func (c *LoadContext) Read(rel string) ([]byte, error) {
	rel = CleanPath(rel)
	data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	c.reads = append(c.reads, rel)
	return data, nil
}

// Handle resolves a reference to another file under the root.
func (c *LoadContext) Handle(rel string) Handle {
	return HandleForPath(rel)
}

// Sibling returns the path of name in the directory of the file being loaded.
func (c *LoadContext) Sibling(name string) string {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(c.Path)))
	if dir == "." {
		return CleanPath(name)
	}
	return CleanPath(dir + "/" + name)
}
