// Package loader reads configuration sources into nested maps.
//
// File formats are chosen by extension: .toml, .yaml/.yml and .json. The
// environment loader maps RUMBEACON_* variables onto configuration paths.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Loader produces one configuration map. A missing source yields nil, nil.
type Loader interface {
	Load() (map[string]any, error)
}

// FileSystem is the subset of file access the loaders need.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

type osFS struct{}

func (osFS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }
func (osFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

// DefaultFS reads from the operating system.
func DefaultFS() FileSystem { return osFS{} }

// ParseError describes a malformed configuration file.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// parser decodes raw bytes; source names the input in errors.
type parser func(source string, data []byte) (map[string]any, error)

// File loads one file with a format-specific parser.
type File struct {
	fs    FileSystem
	path  string
	parse parser
}

// ForPath returns a File loader for path chosen by its extension.
func ForPath(path string) (*File, error) {
	return ForPathFS(DefaultFS(), path)
}

// ForPathFS is ForPath with a custom file system.
func ForPathFS(fsys FileSystem, path string) (*File, error) {
	var p parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		p = parseTOML
	case ".yaml", ".yml":
		p = parseYAML
	case ".json":
		p = parseJSON
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return &File{fs: fsys, path: path, parse: p}, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Load reads and parses the file.
func (f *File) Load() (map[string]any, error) {
	data, err := f.fs.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", f.path, err)
	}
	return f.parse(f.path, data)
}

// Parse decodes data in the given format ("toml", "yaml" or "json").
func Parse(format string, data []byte) (map[string]any, error) {
	switch strings.ToLower(format) {
	case "toml":
		return parseTOML("<"+format+">", data)
	case "yaml", "yml":
		return parseYAML("<"+format+">", data)
	case "json":
		return parseJSON("<"+format+">", data)
	}
	return nil, fmt.Errorf("unsupported config format %q", format)
}
