// Package host defines the two collaborator interfaces the compiler and vm
// consume from whatever embeds sink, plus the native command registry that
// sits between them (spec.md §6).
package host

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"sink/bytecode"
	"sink/vm"
)

// ProbeStatus is the result of resolving a path against the host's file
// space, per spec.md §6: "probe(path) -> { NONE | FILE | DIR }".
type ProbeStatus int

const (
	ProbeNone ProbeStatus = iota
	ProbeFile
	ProbeDir
)

// Includer resolves `include`/`embed`/`using` path references for the
// compiler. Grounded on the teacher's vm/devices.go HardwareDevice
// interface shape (small, capability-style methods a VM consumer calls
// without knowing the concrete backing store) adapted to file resolution.
type Includer interface {
	// Probe reports whether path resolves to nothing, a file, or a
	// directory, after the search-list/cwd/index.sink/.sink-suffix
	// resolution rules spec.md §6 describes.
	Probe(path string) ProbeStatus
	// Read streams path's full contents to w. Callers must Probe first;
	// Read on a path Probe reported ProbeNone is an error.
	Read(path string, w io.Writer) error
}

// FileIncluder is the straightforward Includer backed by the OS
// filesystem, trying Cwd first and then each of Paths in order.
// Grounded on the teacher's main.go flag-driven file reading, generalized
// from "one named file" to the search-list-plus-suffix-retry rules §6
// spells out.
type FileIncluder struct {
	Cwd   string
	Paths []string
}

// NewFileIncluder returns a FileIncluder rooted at cwd with the given
// additional search directories, tried in order after cwd.
func NewFileIncluder(cwd string, searchPaths ...string) *FileIncluder {
	return &FileIncluder{Cwd: cwd, Paths: searchPaths}
}

func (f *FileIncluder) candidates(path string) []string {
	if filepath.IsAbs(path) {
		return []string{path}
	}
	var out []string
	out = append(out, filepath.Join(f.Cwd, path))
	for _, p := range f.Paths {
		out = append(out, filepath.Join(p, path))
	}
	return out
}

func (f *FileIncluder) resolve(path string) (string, ProbeStatus) {
	for _, c := range f.candidates(path) {
		if info, err := os.Stat(c); err == nil {
			if info.IsDir() {
				idx := filepath.Join(c, "index.sink")
				if _, err := os.Stat(idx); err == nil {
					return idx, ProbeFile
				}
				return c, ProbeDir
			}
			return c, ProbeFile
		}
	}
	if !strings.HasSuffix(path, ".sink") {
		return f.resolve(path + ".sink")
	}
	return "", ProbeNone
}

// Probe implements Includer.
func (f *FileIncluder) Probe(path string) ProbeStatus {
	_, status := f.resolve(path)
	return status
}

// Read implements Includer.
func (f *FileIncluder) Read(path string, w io.Writer) error {
	resolved, status := f.resolve(path)
	if status != ProbeFile {
		return errors.Errorf("include: %q does not resolve to a readable file", path)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return errors.Wrapf(err, "include: reading %q", resolved)
	}
	_, err = w.Write(data)
	return err
}

// CachingIncluder wraps another Includer with a bounded LRU cache of
// resolved Probe/Read results, keyed by the requested path, so a shared
// module `using`d from many namespaces in a long-lived REPL isn't re-read
// and re-stat'd on every reference.
type CachingIncluder struct {
	inner Includer
	cache *lru.Cache[string, cachedRead]
}

type cachedRead struct {
	status ProbeStatus
	data   []byte
}

// NewCachingIncluder wraps inner with an LRU cache holding up to size
// resolved entries.
func NewCachingIncluder(inner Includer, size int) *CachingIncluder {
	c, _ := lru.New[string, cachedRead](size)
	return &CachingIncluder{inner: inner, cache: c}
}

// Probe implements Includer, populating the cache on a miss by eagerly
// reading the file (Probe is nearly always followed by Read for the same
// path in compiler usage, so this avoids a second filesystem round trip).
func (c *CachingIncluder) Probe(path string) ProbeStatus {
	if entry, ok := c.cache.Get(path); ok {
		return entry.status
	}
	status := c.inner.Probe(path)
	if status != ProbeFile {
		c.cache.Add(path, cachedRead{status: status})
		return status
	}
	var buf strings.Builder
	if err := c.inner.Read(path, &buf); err != nil {
		c.cache.Add(path, cachedRead{status: ProbeNone})
		return ProbeNone
	}
	c.cache.Add(path, cachedRead{status: ProbeFile, data: []byte(buf.String())})
	return ProbeFile
}

// Read implements Includer, serving from cache when Probe already warmed
// it, falling back to inner otherwise.
func (c *CachingIncluder) Read(path string, w io.Writer) error {
	if entry, ok := c.cache.Get(path); ok && entry.status == ProbeFile {
		_, err := w.Write(entry.data)
		return err
	}
	return c.inner.Read(path, w)
}

// IO is the host I/O collaborator consumed by the VM (spec.md §6): each
// call may resolve immediately (a fulfilled *vm.Wait) or suspend execution
// on a pending one (spec.md §5).
type IO = vm.IO

// NativeFunc is a host-registered native command.
type NativeFunc = vm.NativeFunc

// Natives is the native command registry: names are hashed into the
// 64-bit space via bytecode.HashName (spec.md §6's "128-bit murmur-style,
// first 64 bits"), and a hash collision between two distinct names aborts
// registration rather than silently shadowing one of them.
type Natives struct {
	byHash map[uint64]NativeFunc
	names  map[uint64]string
}

// NewNatives returns an empty registry.
func NewNatives() *Natives {
	return &Natives{byHash: make(map[uint64]NativeFunc), names: make(map[uint64]string)}
}

// Register binds name to fn under its 64-bit hash, returning an error if
// the hash collides with a previously registered, differently-named
// command (spec.md §6: "Collision attempts abort at registration time").
func (n *Natives) Register(name string, fn NativeFunc) error {
	hash := bytecode.HashName(name)
	if existing, ok := n.names[hash]; ok && existing != name {
		return errors.Errorf("native registry: hash collision between %q and %q", existing, name)
	}
	n.byHash[hash] = fn
	n.names[hash] = name
	return nil
}

// Lookup returns the function registered under hash, if any.
func (n *Natives) Lookup(hash uint64) (NativeFunc, bool) {
	fn, ok := n.byHash[hash]
	return fn, ok
}

// Hash exposes the registry's naming function so callers (the compiler,
// resolving a native command call by name) can compute the same hash the
// registry keys on.
func (n *Natives) Hash(name string) uint64 { return bytecode.HashName(name) }

// WithNatives installs every command currently registered in n as vm
// Options, for wiring a Natives registry into a fresh vm.Context.
func WithNatives(n *Natives) []vm.Option {
	opts := make([]vm.Option, 0, len(n.byHash))
	for hash, fn := range n.byHash {
		opts = append(opts, vm.WithNative(hash, fn))
	}
	return opts
}
