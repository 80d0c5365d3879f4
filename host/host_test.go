package host

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sink/value"
	"sink/vm"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestFileIncluderResolvesRelativeAndSuffix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "util.sink", "var x = 1")

	inc := NewFileIncluder(dir)
	assert.Equal(t, ProbeFile, inc.Probe("util.sink"))
	assert.Equal(t, ProbeFile, inc.Probe("util")) // suffix retry

	var buf bytes.Buffer
	require.NoError(t, inc.Read("util.sink", &buf))
	assert.Equal(t, "var x = 1", buf.String())
}

func TestFileIncluderDirectoryResolvesIndex(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "index.sink", "def f end")

	inc := NewFileIncluder(dir)
	assert.Equal(t, ProbeFile, inc.Probe("pkg"))

	var buf bytes.Buffer
	require.NoError(t, inc.Read("pkg", &buf))
	assert.Equal(t, "def f end", buf.String())
}

func TestFileIncluderSearchPathFallback(t *testing.T) {
	cwd := t.TempDir()
	lib := t.TempDir()
	writeFile(t, lib, "shared.sink", "var shared = 1")

	inc := NewFileIncluder(cwd, lib)
	assert.Equal(t, ProbeFile, inc.Probe("shared.sink"))
}

func TestFileIncluderMissingIsNone(t *testing.T) {
	inc := NewFileIncluder(t.TempDir())
	assert.Equal(t, ProbeNone, inc.Probe("nope"))

	var buf bytes.Buffer
	assert.Error(t, inc.Read("nope", &buf))
}

func TestCachingIncluderServesFromCacheWithoutRereading(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sink", "var a = 1")

	inner := NewFileIncluder(dir)
	cached := NewCachingIncluder(inner, 8)

	assert.Equal(t, ProbeFile, cached.Probe("a.sink"))

	// mutate backing file; cached reads should still see the original bytes
	writeFile(t, dir, "a.sink", "var a = 2")

	var buf bytes.Buffer
	require.NoError(t, cached.Read("a.sink", &buf))
	assert.Equal(t, "var a = 1", buf.String())
}

func TestNativesReregisterSameNameAndLookup(t *testing.T) {
	n := NewNatives()
	fn := func(c *vm.Context, args []value.Value) (value.Value, *vm.Wait, error) {
		return value.Nil, nil, nil
	}
	require.NoError(t, n.Register("my.native", fn))
	// re-registering the same name is not a collision
	require.NoError(t, n.Register("my.native", fn))

	_, ok := n.Lookup(n.Hash("my.native"))
	assert.True(t, ok)

	_, ok = n.Lookup(n.Hash("never.registered"))
	assert.False(t, ok)
}

func TestWithNativesProducesOneOptionPerEntry(t *testing.T) {
	n := NewNatives()
	fn := func(c *vm.Context, args []value.Value) (value.Value, *vm.Wait, error) {
		return value.Number(42), nil, nil
	}
	require.NoError(t, n.Register("answer", fn))

	opts := WithNatives(n)
	assert.Len(t, opts, 1)
}
