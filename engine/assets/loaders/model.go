package loaders

import (
	"bufio"
	"bytes"
	"io"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

// Primitive is one sub-mesh with indices local to it. UVs may be nil.
type Primitive struct {
	Positions [][3]float32
	Normals   [][3]float32
	UVs       [][2]float32
	Indices   []uint32
}

/**
 * @brief A triangle mesh split into one primitive per material group.
 * MaterialNames is parallel to Primitives; an empty name, or a name missing
 * from Materials, renders with the default material.
 */
type Mesh struct {
	Primitives    []Primitive
	MaterialNames []string
	Materials     map[string]Material
}

// Material returns the material of primitive i.
func (m *Mesh) Material(i int) (Material, bool) {
	mat, ok := m.Materials[m.MaterialNames[i]]
	return mat, ok
}

// Textures lists every texture the mesh's materials reference, in handle
// order and without duplicates.
func (m *Mesh) Textures() []assets.Handle {
	seen := map[assets.Handle]struct{}{}
	var handles []assets.Handle
	for i := range m.Primitives {
		mat, ok := m.Material(i)
		if !ok {
			continue
		}
		for _, h := range mat.Textures() {
			if _, dup := seen[h]; !dup {
				seen[h] = struct{}{}
				handles = append(handles, h)
			}
		}
	}
	slices.SortFunc(handles, assets.Handle.Compare)
	return handles
}

type ModelLoader struct{}

func (ml *ModelLoader) Kind() assets.Kind {
	return assets.KindMesh
}

func (ml *ModelLoader) Extensions() []string {
	return []string{".obj"}
}

func (ml *ModelLoader) Load(ctx *assets.LoadContext, data []byte) (any, error) {
	mesh, err := ParseOBJ(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	materials := ctx.Sibling(strings.TrimSuffix(baseName(ctx.Path), ".obj") + MaterialsSuffix)
	raw, err := ctx.Read(materials)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		mesh.Materials = map[string]Material{}
	case err != nil:
		return nil, core.Wrapf(err, "reading %s", materials)
	default:
		if mesh.Materials, err = ParseMaterials(raw); err != nil {
			return nil, core.Wrapf(err, "in %s", materials)
		}
	}
	return mesh, nil
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// objVertex is a v/vt/vn triple, 0 where absent, otherwise 1 based.
type objVertex struct {
	v, vt, vn int
}

type objParser struct {
	positions [][3]float32
	normals   [][3]float32
	uvs       [][2]float32

	mesh    *Mesh
	current *primitiveBuilder
}

type primitiveBuilder struct {
	material string
	lookup   map[objVertex]uint32
	verts    []objVertex
	indices  []uint32
}

/**
 * @brief Parses the triangle subset of Wavefront OBJ: positions, normals,
 * texture coordinates and polygonal faces, which are triangulated as fans.
 * Every usemtl starts a new primitive. Vertices without a normal get the
 * average of the normals of the faces around them.
 */
func ParseOBJ(r io.Reader) (*Mesh, error) {
	p := &objParser{mesh: &Mesh{}}
	p.begin("")

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		var err error
		switch fields[0] {
		case "v":
			var v [3]float32
			v, err = parseFloats3(fields[1:])
			p.positions = append(p.positions, v)
		case "vn":
			var v [3]float32
			v, err = parseFloats3(fields[1:])
			p.normals = append(p.normals, v)
		case "vt":
			var uv [2]float32
			uv, err = parseUV(fields[1:])
			p.uvs = append(p.uvs, uv)
		case "f":
			err = p.face(fields[1:])
		case "usemtl":
			p.begin(strings.Join(fields[1:], " "))
		case "o", "g", "s", "mtllib", "l", "p":
		default:
			core.LogDebug("obj line %d: skipping %q", line, fields[0])
		}
		if err != nil {
			return nil, core.Wrapf(err, "obj line %d", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	p.finish()
	if len(p.mesh.Primitives) == 0 {
		return nil, core.Newf("obj has no faces")
	}
	return p.mesh, nil
}

func (p *objParser) begin(material string) {
	p.finish()
	p.current = &primitiveBuilder{material: material, lookup: map[objVertex]uint32{}}
}

func (p *objParser) face(refs []string) error {
	if len(refs) < 3 {
		return core.Newf("face with %d vertices", len(refs))
	}
	corners := make([]uint32, len(refs))
	for i, ref := range refs {
		v, err := p.parseRef(ref)
		if err != nil {
			return err
		}
		idx, ok := p.current.lookup[v]
		if !ok {
			idx = uint32(len(p.current.verts))
			p.current.lookup[v] = idx
			p.current.verts = append(p.current.verts, v)
		}
		corners[i] = idx
	}
	for i := 1; i+1 < len(corners); i++ {
		p.current.indices = append(p.current.indices, corners[0], corners[i], corners[i+1])
	}
	return nil
}

func (p *objParser) parseRef(ref string) (objVertex, error) {
	parts := strings.Split(ref, "/")
	if len(parts) > 3 {
		return objVertex{}, core.Newf("bad face vertex %q", ref)
	}
	var out objVertex
	targets := []*int{&out.v, &out.vt, &out.vn}
	counts := []int{len(p.positions), len(p.uvs), len(p.normals)}
	for i, part := range parts {
		if part == "" {
			if i == 0 {
				return objVertex{}, core.Newf("face vertex %q without a position", ref)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return objVertex{}, core.Wrapf(err, "face vertex %q", ref)
		}
		// negative references count back from the last element
		if n < 0 {
			n = counts[i] + n + 1
		}
		if n < 1 || n > counts[i] {
			return objVertex{}, core.Newf("face vertex %q out of range", ref)
		}
		*targets[i] = n
	}
	return out, nil
}

func (p *objParser) finish() {
	b := p.current
	if b == nil || len(b.indices) == 0 {
		return
	}
	prim := Primitive{
		Positions: make([][3]float32, len(b.verts)),
		Normals:   make([][3]float32, len(b.verts)),
		Indices:   b.indices,
	}
	hasUV := false
	missingNormal := false
	for i, v := range b.verts {
		prim.Positions[i] = p.positions[v.v-1]
		if v.vn > 0 {
			prim.Normals[i] = p.normals[v.vn-1]
		} else {
			missingNormal = true
		}
		hasUV = hasUV || v.vt > 0
	}
	if hasUV {
		prim.UVs = make([][2]float32, len(b.verts))
		for i, v := range b.verts {
			if v.vt > 0 {
				prim.UVs[i] = p.uvs[v.vt-1]
			}
		}
	}
	if missingNormal {
		fillNormals(&prim, b.verts)
	}
	p.mesh.Primitives = append(p.mesh.Primitives, prim)
	p.mesh.MaterialNames = append(p.mesh.MaterialNames, b.material)
	p.current = nil
}

// fillNormals gives every vertex without a normal the area weighted average
// of the normals of its faces.
func fillNormals(prim *Primitive, verts []objVertex) {
	acc := make([]math.Vec3, len(prim.Positions))
	for t := 0; t+2 < len(prim.Indices); t += 3 {
		i0, i1, i2 := prim.Indices[t], prim.Indices[t+1], prim.Indices[t+2]
		a, b, c := vec3(prim.Positions[i0]), vec3(prim.Positions[i1]), vec3(prim.Positions[i2])
		n := b.Sub(a).Cross(c.Sub(a))
		acc[i0] = acc[i0].Add(n)
		acc[i1] = acc[i1].Add(n)
		acc[i2] = acc[i2].Add(n)
	}
	for i, v := range verts {
		if v.vn > 0 {
			continue
		}
		n := acc[i].Normalized()
		prim.Normals[i] = [3]float32{n.X, n.Y, n.Z}
	}
}

func vec3(v [3]float32) math.Vec3 {
	return math.NewVec3(v[0], v[1], v[2])
}

func parseFloats3(fields []string) ([3]float32, error) {
	var out [3]float32
	if len(fields) < 3 {
		return out, core.Newf("expected 3 values, got %d", len(fields))
	}
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return out, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// parseUV flips v, OBJ puts the origin at the bottom left.
func parseUV(fields []string) ([2]float32, error) {
	var out [2]float32
	if len(fields) < 1 {
		return out, core.Newf("texture coordinate without values")
	}
	u, err := strconv.ParseFloat(fields[0], 32)
	if err != nil {
		return out, err
	}
	v := 0.0
	if len(fields) > 1 {
		if v, err = strconv.ParseFloat(fields[1], 32); err != nil {
			return out, err
		}
	}
	return [2]float32{float32(u), float32(1 - v)}, nil
}
