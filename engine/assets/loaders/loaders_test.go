package loaders

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func spirv(words ...uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func TestDecodeTexturePNG(t *testing.T) {
	tex, err := DecodeTexture(encodePNG(t, 4, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), tex.Width)
	assert.Equal(t, uint32(3), tex.Height)
	assert.Equal(t, metadata.FormatR8G8B8A8Unorm, tex.Format)
	require.Len(t, tex.Pixels, 4*3*4)
	// pixel (2, 1)
	off := (1*4 + 2) * 4
	assert.Equal(t, []byte{2, 1, 7, 255}, tex.Pixels[off:off+4])
}

func TestDecodeTextureBMP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))

	tex, err := DecodeTexture(buf.Bytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tex.Width)
	assert.Equal(t, byte(200), tex.Pixels[(1*2+1)*4])
}

func TestDecodeTextureDownscalesToMaxSize(t *testing.T) {
	tex, err := DecodeTexture(encodePNG(t, 64, 16), 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), tex.Width)
	assert.Equal(t, uint32(8), tex.Height)
	assert.Len(t, tex.Pixels, 32*8*4)
}

func TestDecodeTextureRejectsNonImages(t *testing.T) {
	_, err := DecodeTexture([]byte("definitely not a picture"), 0)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestFitInside(t *testing.T) {
	cases := map[string]struct {
		w, h, limit int
		ew, eh      int
	}{
		"no limit":   {w: 100, h: 50, limit: 0, ew: 100, eh: 50},
		"inside":     {w: 100, h: 50, limit: 100, ew: 100, eh: 50},
		"wide":       {w: 400, h: 100, limit: 200, ew: 200, eh: 50},
		"tall":       {w: 100, h: 400, limit: 200, ew: 50, eh: 200},
		"thin strip": {w: 1000, h: 1, limit: 10, ew: 10, eh: 1},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			w, h := fitInside(c.w, c.h, c.limit)
			assert.Equal(t, c.ew, w)
			assert.Equal(t, c.eh, h)
		})
	}
}

func TestValidateSPIRV(t *testing.T) {
	version, err := ValidateSPIRV(spirv(SPIRVMagic, 0x00010500, 0, 8, 0))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010500), version)

	_, err = ValidateSPIRV(spirv(SPIRVMagic, 0x00010500, 0, 8, 0)[:19])
	assert.Error(t, err)
	_, err = ValidateSPIRV(spirv(SPIRVMagic, 1))
	assert.Error(t, err)
	_, err = ValidateSPIRV(spirv(0xdeadbeef, 0x00010500, 0, 8, 0))
	assert.Error(t, err)
}

func TestShaderStageForPath(t *testing.T) {
	stage, ok := ShaderStageForPath("shaders/raygen.rgen.spv")
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageRaygen, stage)
	stage, ok = ShaderStageForPath("shaders/Sphere.RINT.spv")
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageIntersection, stage)
	_, ok = ShaderStageForPath("shaders/frag.spv")
	assert.False(t, ok)
}

const quadOBJ = `
# a quad and a triangle
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
usemtl red
f 1/1/1 2/2/1 3/3/1 4/4/1
usemtl blue
f -4 -3 -2
`

func TestParseOBJ(t *testing.T) {
	mesh, err := ParseOBJ(strings.NewReader(quadOBJ))
	require.NoError(t, err)
	require.Len(t, mesh.Primitives, 2)
	assert.Equal(t, []string{"red", "blue"}, mesh.MaterialNames)

	quad := mesh.Primitives[0]
	assert.Len(t, quad.Positions, 4)
	assert.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, quad.Indices)
	assert.Equal(t, [3]float32{0, 0, 1}, quad.Normals[2])
	require.Len(t, quad.UVs, 4)
	// v is flipped
	assert.Equal(t, [2]float32{1, 0}, quad.UVs[2])

	tri := mesh.Primitives[1]
	assert.Equal(t, [][3]float32{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}}, tri.Positions)
	assert.Nil(t, tri.UVs)
	// no vn in the face, the normal comes from the winding
	for _, n := range tri.Normals {
		assert.InDelta(t, 1.0, n[2], 1e-6)
	}
}

func TestParseOBJErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "v 0 0 0\n",
		"bad float":      "v 0 x 0\n",
		"out of range":   "v 0 0 0\nf 1 2 3\n",
		"short face":     "v 0 0 0\nv 1 0 0\nf 1 2\n",
		"missing vertex": "v 0 0 0\nf /1 1 1\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOBJ(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestParseMaterials(t *testing.T) {
	mats, err := ParseMaterials([]byte(`
[materials.red]
diffuse_factor = [1.0, 0.0, 0.0, 1.0]
diffuse_texture = "textures/red.png"
roughness = 0.25

[materials.plain]
`))
	require.NoError(t, err)
	require.Len(t, mats, 2)

	slots := map[string]uint32{"textures/red.png": 7}
	lookup := func(path string) (uint32, bool) {
		s, ok := slots[path]
		return s, ok
	}
	red := mats["red"].Record(lookup)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, red.DiffuseFactor)
	assert.Equal(t, uint32(7), red.DiffuseTexture)
	assert.Equal(t, metadata.NoTexture, red.NormalTexture)
	assert.Equal(t, float32(0.25), red.RoughnessFactor)
	assert.Equal(t, []assets.Handle{assets.HandleForPath("textures/red.png")}, mats["red"].Textures())

	assert.Equal(t, metadata.DefaultTriangleMaterial(), mats["plain"].Record(lookup))
}

func TestParseMaterialsValidation(t *testing.T) {
	_, err := ParseMaterials([]byte("[materials.x]\ndiffuse_factor = [2.0, 0.0, 0.0, 1.0]\n"))
	assert.Error(t, err)
	_, err = ParseMaterials([]byte("[materials.x]\nmetallic = -1.0\n"))
	assert.Error(t, err)
	_, err = ParseMaterials([]byte("[materials.x]\nshininess = 3.0\n"))
	assert.Error(t, err)
}

const sceneTOML = `
[pipeline]
raygen = "shaders/raygen.rgen.spv"
miss = "shaders/miss.rmiss.spv"
closest_hit = "shaders/triangle.rchit.spv"
sphere_closest_hit = "shaders/sphere.rchit.spv"
sphere_intersection = "shaders/sphere.rint.spv"

[camera]
position = [0.0, 2.0, 8.0]
fov = 45.0

[[mesh]]
path = "models/cube.obj"
translation = [1.0, 2.0, 3.0]

[[mesh]]
path = "./models/cube.obj"
scale = [2.0, 2.0, 2.0]

[[sphere]]
center = [0.0, 1.0, 0.0]
radius = 0.5
`

func TestParseScene(t *testing.T) {
	scene, err := ParseScene([]byte(sceneTOML))
	require.NoError(t, err)

	assert.Equal(t, assets.HandleForPath("shaders/raygen.rgen.spv"), scene.Pipeline.Raygen)
	assert.Equal(t, uint32(1), scene.Pipeline.MaxRecursionDepth)
	assert.Len(t, scene.Pipeline.Shaders(), 5)
	assert.Equal(t, math.NewVec3(0, 2, 8), scene.Camera.Position)
	assert.Equal(t, math.NewVec3Zero(), scene.Camera.Target)
	assert.Equal(t, float32(45), scene.Camera.FOV)

	require.Len(t, scene.Meshes, 2)
	assert.Equal(t, scene.Meshes[0].Mesh, scene.Meshes[1].Mesh)
	assert.Equal(t, "models/cube.obj", scene.Meshes[1].Path)
	affine := scene.Meshes[0].Transform.Affine()
	assert.Equal(t, [3]float32{1, 2, 3}, [3]float32{affine[3], affine[7], affine[11]})
	assert.Equal(t, float32(2), scene.Meshes[1].Transform.Data[0])

	require.Len(t, scene.Spheres, 1)
	// unit geometry of radius 0.5 scaled to the sphere's diameter
	assert.Equal(t, float32(1), scene.Spheres[0].Transform.Data[0])
	assert.Equal(t, float32(1), scene.Spheres[0].Transform.Data[13])

	labeled := scene.Labeled()
	require.Len(t, labeled, 1)
	assert.Equal(t, assets.KindRayTracingPipeline, labeled[0].Kind)
	assert.Same(t, &scene.Pipeline, labeled[0].Value)
}

func TestParseSceneRequiresEveryShader(t *testing.T) {
	src := strings.Replace(sceneTOML, `miss = "shaders/miss.rmiss.spv"`, "", 1)
	_, err := ParseScene([]byte(src))
	assert.ErrorIs(t, err, core.ErrShaderGroupsIncomplete)

	src = strings.Replace(sceneTOML, "radius = 0.5", "radius = 0.0", 1)
	_, err = ParseScene([]byte(src))
	assert.Error(t, err)

	src = strings.Replace(sceneTOML, "fov = 45.0", "fov = 200.0", 1)
	_, err = ParseScene([]byte(src))
	assert.Error(t, err)
}

func TestRegisteredLoadersThroughTheServer(t *testing.T) {
	root := t.TempDir()
	write := func(rel string, data []byte) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o644))
	}
	write("scenes/main.scene.toml", []byte(sceneTOML))
	write("models/cube.obj", []byte(quadOBJ))
	write("models/cube.materials.toml", []byte("[materials.red]\ndiffuse_texture = \"textures/red.png\"\n"))
	write("textures/red.png", encodePNG(t, 8, 8))
	write("shaders/raygen.rgen.spv", spirv(SPIRVMagic, 0x00010500, 0, 8, 0))

	cfg := core.DefaultConfig().Assets
	cfg.Root = root
	server, err := assets.NewServer(cfg)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, Register(server, cfg))

	n, err := server.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	mesh, ok := assets.Get[*Mesh](server, assets.HandleForPath("models/cube.obj"))
	require.True(t, ok)
	assert.Equal(t, []assets.Handle{assets.HandleForPath("textures/red.png")}, mesh.Textures())
	_, ok = mesh.Material(1)
	assert.False(t, ok)

	pipeline, ok := assets.Get[*Pipeline](server, PipelineHandle("scenes/main.scene.toml"))
	require.True(t, ok)
	assert.Equal(t, assets.HandleForPath("shaders/miss.rmiss.spv"), pipeline.Miss)

	shader, ok := assets.Get[*Shader](server, assets.HandleForPath("shaders/raygen.rgen.spv"))
	require.True(t, ok)
	assert.Equal(t, metadata.ShaderStageRaygen, shader.Stage)

	tex, ok := assets.Get[*Texture](server, assets.HandleForPath("textures/red.png"))
	require.True(t, ok)
	assert.Equal(t, uint32(8), tex.Width)
}
