// Package properties reads the server's server.properties file. The file is
// treated as opaque: keys and values are plain strings, and nothing is
// interpreted.
package properties

import (
	"io"
	"os"
	"sync"

	javaprops "github.com/magiconair/properties"
	"github.com/pkg/errors"
)

// FileName is the name of the server's properties file, found in its working
// directory.
const FileName = "server.properties"

// loader reads server.properties as written by the server: UTF-8 with Java
// escapes. ${...} is left alone, since the server doesn't expand it either.
var loader = javaprops.Loader{
	Encoding:         javaprops.UTF8,
	DisableExpansion: true,
}

// Parse parses Java properties. Blank lines and lines starting with '#' or '!'
// are skipped, ':' is accepted in place of '=', escapes such as \u00A7 are
// decoded, and lines ending in a backslash continue on the next one. Later keys
// override earlier ones.
func Parse(r io.Reader) (map[string]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read properties")
	}

	props, err := loader.LoadBytes(b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse properties")
	}

	return props.Map(), nil
}

// File is a properties file that's loaded in memory. It is safe for
// concurrent use.
type File struct {
	path  string
	mutex sync.RWMutex
	props map[string]string
}

// Open loads the properties file at the given path. A missing file is not an
// error; it simply has no properties until it's reloaded.
func Open(path string) (*File, error) {
	f := &File{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file's path.
func (f *File) Path() string {
	return f.path
}

// Reload reads the file again. The old properties are kept if reading fails.
func (f *File) Reload() error {
	props, err := readFile(f.path)
	if err != nil {
		return err
	}

	f.mutex.Lock()
	f.props = props
	f.mutex.Unlock()

	return nil
}

func readFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "failed to open properties")
	}
	defer file.Close()

	return Parse(file)
}

// Get returns the property with the given key.
func (f *File) Get(key string) (string, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	v, ok := f.props[key]
	return v, ok
}
