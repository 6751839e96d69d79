package assets

import (
	"bytes"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// pathNamespace seeds the name based handles of files under the asset root.
var pathNamespace = uuid.MustParse("6f1d2c2e-5b0a-4c56-9d1e-8a3b7f0e4d21")

/**
 * @brief Identifies an asset for the lifetime of the process. Handles of
 * files are derived from their path, so a file keeps its handle across
 * reloads and other assets may refer to it before it is loaded.
 */
type Handle uuid.UUID

var NilHandle Handle

// NewHandle returns a random handle for assets that do not come from a file.
func NewHandle() Handle {
	return Handle(uuid.New())
}

// HandleForPath returns the handle of the file at rel, relative to the
// asset root. A label addresses a sub asset of the file ("scene.toml#pipeline").
func HandleForPath(rel string) Handle {
	return Handle(uuid.NewSHA1(pathNamespace, []byte(CleanPath(rel))))
}

// CleanPath normalises an asset path to the slash separated form handles
// are derived from.
func CleanPath(rel string) string {
	name, label, _ := strings.Cut(filepath.ToSlash(rel), "#")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if label != "" {
		return name + "#" + label
	}
	return name
}

func (h Handle) IsNil() bool {
	return h == NilHandle
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// Compare orders handles by their bytes.
func (h Handle) Compare(other Handle) int {
	return bytes.Compare(h[:], other[:])
}
