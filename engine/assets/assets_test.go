package assets

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

// textLoader stores file contents as strings, optionally followed by the
// contents of a sidecar file.
type textLoader struct {
	kind    Kind
	exts    []string
	sidecar string
}

func (l *textLoader) Kind() Kind           { return l.kind }
func (l *textLoader) Extensions() []string { return l.exts }

func (l *textLoader) Load(ctx *LoadContext, data []byte) (any, error) {
	s := string(data)
	if l.sidecar != "" {
		side, err := ctx.Read(l.sidecar)
		if err != nil {
			return nil, err
		}
		s += "+" + string(side)
	}
	return s, nil
}

type bundle struct {
	name string
}

func (b *bundle) Labeled() []Labeled {
	return []Labeled{{Label: "inner", Kind: KindShader, Value: b.name + "/inner"}}
}

type bundleLoader struct{}

func (bundleLoader) Kind() Kind           { return KindScene }
func (bundleLoader) Extensions() []string { return []string{".bundle"} }
func (bundleLoader) Load(ctx *LoadContext, data []byte) (any, error) {
	return &bundle{name: string(data)}, nil
}

func newTestServer(t *testing.T, ignore ...string) (*Server, string) {
	t.Helper()
	core.SetLogOutput(io.Discard)
	root := t.TempDir()
	s, err := NewServer(core.AssetsConfig{Root: root, Ignore: ignore, LoadConcurrency: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestHandleForPathIsStable(t *testing.T) {
	h := HandleForPath("models/cube.obj")
	assert.Equal(t, h, HandleForPath("./models//cube.obj"))
	assert.Equal(t, h, HandleForPath(filepath.Join("models", "cube.obj")))
	assert.NotEqual(t, h, HandleForPath("models/sphere.obj"))
	assert.NotEqual(t, h, HandleForPath("models/cube.obj#pipeline"))
	assert.Equal(t, "scenes/a.toml#pipeline", CleanPath("scenes/../scenes/a.toml#pipeline"))
	assert.False(t, h.IsNil())
	assert.True(t, NilHandle.IsNil())
	assert.NotEqual(t, NewHandle(), NewHandle())
}

func TestSetEmitsEventsToSubscribersOfTheKind(t *testing.T) {
	s, _ := newTestServer(t)
	textures := s.Subscribe(KindTexture)
	meshes := s.Subscribe(KindMesh)

	h := s.Add(KindTexture, "a")
	s.Set(h, KindTexture, "b")
	require.True(t, s.Remove(h))
	assert.False(t, s.Remove(h))

	events := textures.Drain()
	assert.Equal(t, []EventType{EventCreated, EventModified, EventRemoved}, eventTypes(events))
	for _, e := range events {
		assert.Equal(t, h, e.Handle)
		assert.Equal(t, KindTexture, e.Kind)
	}
	assert.Empty(t, meshes.Drain())
	assert.Empty(t, textures.Drain())
}

func TestSetWithAnotherKindReplacesTheAsset(t *testing.T) {
	s, _ := newTestServer(t)
	textures := s.Subscribe(KindTexture)
	shaders := s.Subscribe(KindShader)

	h := s.Add(KindTexture, "a")
	s.Set(h, KindShader, "b")

	assert.Equal(t, []EventType{EventCreated, EventRemoved}, eventTypes(textures.Drain()))
	assert.Equal(t, []EventType{EventCreated}, eventTypes(shaders.Drain()))
	info, ok := s.Info(h)
	require.True(t, ok)
	assert.Equal(t, KindShader, info.Kind)
	assert.Equal(t, uint64(1), info.Version)
}

func TestGetChecksTheType(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Add(KindShader, "code")

	v, ok := Get[string](s, h)
	assert.True(t, ok)
	assert.Equal(t, "code", v)

	_, ok = Get[int](s, h)
	assert.False(t, ok)
	_, ok = Get[string](s, NewHandle())
	assert.False(t, ok)
}

func TestLoaderForPrefersTheLongestSuffix(t *testing.T) {
	s, _ := newTestServer(t)
	generic := &textLoader{kind: KindShader, exts: []string{".spv"}}
	raygen := &textLoader{kind: KindShader, exts: []string{".rgen.spv"}}
	require.NoError(t, s.RegisterLoader(generic))
	require.NoError(t, s.RegisterLoader(raygen))
	assert.Error(t, s.RegisterLoader(&textLoader{exts: []string{".SPV"}}))

	l, ok := s.LoaderFor("shaders/a.RGEN.spv")
	require.True(t, ok)
	assert.Same(t, raygen, l)
	l, ok = s.LoaderFor("shaders/a.rmiss.spv")
	require.True(t, ok)
	assert.Same(t, generic, l)
	_, ok = s.LoaderFor("shaders/a.glsl")
	assert.False(t, ok)
}

func TestLoaderForSniffsImagesWithoutExtension(t *testing.T) {
	s, root := newTestServer(t)
	images := &textLoader{kind: KindTexture, exts: []string{".png"}}
	require.NoError(t, s.RegisterLoader(images))

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	writeFile(t, root, "textures/checker", buf.String())
	writeFile(t, root, "textures/notes", "just some text")

	l, ok := s.LoaderFor("textures/checker")
	require.True(t, ok)
	assert.Same(t, images, l)
	_, ok = s.LoaderFor("textures/notes")
	assert.False(t, ok)
}

func TestLoadAllSkipsIgnoredFilesAndKeepsPathOrder(t *testing.T) {
	s, root := newTestServer(t, "**/*.tmp", ".*")
	require.NoError(t, s.RegisterLoader(&textLoader{kind: KindMesh, exts: []string{".txt", ".tmp"}}))
	sub := s.Subscribe(KindMesh)

	writeFile(t, root, "b/c.txt", "c")
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "b/skip.tmp", "tmp")
	writeFile(t, root, ".hidden/d.txt", "d")
	writeFile(t, root, "b/unknown.bin", "bin")

	n, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events := sub.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, HandleForPath("a.txt"), events[0].Handle)
	assert.Equal(t, HandleForPath("b/c.txt"), events[1].Handle)

	v, ok := Get[string](s, HandleForPath("b/c.txt"))
	require.True(t, ok)
	assert.Equal(t, "c", v)
	info, ok := s.Info(HandleForPath("b/c.txt"))
	require.True(t, ok)
	assert.Equal(t, "b/c.txt", info.Path)
	assert.Len(t, s.Handles(KindMesh), 2)
}

func TestLoadAllHonoursCancellation(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, s.RegisterLoader(&textLoader{kind: KindMesh, exts: []string{".txt"}}))
	writeFile(t, root, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestPumpReloadsChangedFilesOnceAndRemovesDeletedOnes(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, s.RegisterLoader(&textLoader{kind: KindMesh, exts: []string{".txt"}}))
	writeFile(t, root, "a.txt", "one")
	h, err := s.Load("a.txt")
	require.NoError(t, err)
	sub := s.Subscribe(KindMesh)

	writeFile(t, root, "a.txt", "two")
	s.Notify("a.txt")
	s.Notify("./a.txt")
	assert.Equal(t, 1, s.Pump())
	assert.Equal(t, []EventType{EventModified}, eventTypes(sub.Drain()))
	v, _ := Get[string](s, h)
	assert.Equal(t, "two", v)

	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	s.Notify("a.txt")
	assert.Equal(t, 1, s.Pump())
	assert.Equal(t, []EventType{EventRemoved}, eventTypes(sub.Drain()))
	_, ok := s.Resolve(h)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Pump())
}

func TestChangingAFileReadDuringLoadReloadsTheReader(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, s.RegisterLoader(&textLoader{kind: KindMesh, exts: []string{".obj"}, sidecar: "models/cube.cfg"}))
	writeFile(t, root, "models/cube.obj", "mesh")
	writeFile(t, root, "models/cube.cfg", "red")
	h, err := s.Load("models/cube.obj")
	require.NoError(t, err)
	v, _ := Get[string](s, h)
	assert.Equal(t, "mesh+red", v)

	writeFile(t, root, "models/cube.cfg", "blue")
	s.Notify("models/cube.cfg")
	s.Pump()
	v, _ = Get[string](s, h)
	assert.Equal(t, "mesh+blue", v)
}

func TestCompositeRegistersLabeledAssets(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, s.RegisterLoader(bundleLoader{}))
	shaders := s.Subscribe(KindShader)
	writeFile(t, root, "x.bundle", "x")

	_, err := s.Load("x.bundle")
	require.NoError(t, err)
	inner := HandleForPath("x.bundle#inner")
	v, ok := Get[string](s, inner)
	require.True(t, ok)
	assert.Equal(t, "x/inner", v)
	assert.Equal(t, []EventType{EventCreated}, eventTypes(shaders.Drain()))

	require.NoError(t, os.Remove(filepath.Join(root, "x.bundle")))
	s.Notify("x.bundle")
	s.Pump()
	_, ok = s.Resolve(inner)
	assert.False(t, ok)
	assert.Equal(t, []EventType{EventRemoved}, eventTypes(shaders.Drain()))
}

func TestLoadReportsUnknownFiles(t *testing.T) {
	s, root := newTestServer(t)
	writeFile(t, root, "a.xyz", "a")
	_, err := s.Load("a.xyz")
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestWatchReportsNewFiles(t *testing.T) {
	s, root := newTestServer(t)
	require.NoError(t, s.RegisterLoader(&textLoader{kind: KindMesh, exts: []string{".txt"}}))
	require.NoError(t, s.Watch())
	require.NoError(t, s.Watch())

	writeFile(t, root, "late.txt", "hello")
	h := HandleForPath("late.txt")
	assert.Eventually(t, func() bool {
		s.Pump()
		v, ok := Get[string](s, h)
		return ok && v == "hello"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Close())
}
