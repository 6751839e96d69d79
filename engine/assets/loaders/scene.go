package loaders

import (
	"bytes"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

// PipelineLabel addresses the ray tracing pipeline declared by a scene file.
const PipelineLabel = "pipeline"

/**
 * @brief The shaders of the ray tracing pipeline, in group order: raygen,
 * miss, the closest hit of triangle geometry, then the closest hit and
 * intersection shaders of procedural spheres.
 */
type Pipeline struct {
	Raygen             assets.Handle
	Miss               assets.Handle
	ClosestHit         assets.Handle
	SphereClosestHit   assets.Handle
	SphereIntersection assets.Handle
	MaxRecursionDepth  uint32
}

// Shaders lists the shader handles in stage order.
func (p *Pipeline) Shaders() []assets.Handle {
	return []assets.Handle{p.Raygen, p.Miss, p.ClosestHit, p.SphereClosestHit, p.SphereIntersection}
}

type MeshInstance struct {
	Mesh      assets.Handle
	Path      string
	Transform math.Mat4
}

type SphereInstance struct {
	Center    math.Vec3
	Radius    float32
	Transform math.Mat4
}

// Camera is a pinhole camera looking from Position at Target.
type Camera struct {
	Position math.Vec3
	Target   math.Vec3
	// Vertical field of view in degrees.
	FOV float32
}

func DefaultCamera() Camera {
	return Camera{
		Position: math.NewVec3(0, 1, 5),
		Target:   math.NewVec3Zero(),
		FOV:      60,
	}
}

type Scene struct {
	Pipeline Pipeline
	Camera   Camera
	Meshes   []MeshInstance
	Spheres  []SphereInstance
}

func (s *Scene) Labeled() []assets.Labeled {
	return []assets.Labeled{{Label: PipelineLabel, Kind: assets.KindRayTracingPipeline, Value: &s.Pipeline}}
}

// PipelineHandle is the handle of the pipeline declared by the scene at path.
func PipelineHandle(scenePath string) assets.Handle {
	return assets.HandleForPath(scenePath + "#" + PipelineLabel)
}

type sceneFile struct {
	Pipeline struct {
		Raygen             string `toml:"raygen"`
		Miss               string `toml:"miss"`
		ClosestHit         string `toml:"closest_hit"`
		SphereClosestHit   string `toml:"sphere_closest_hit"`
		SphereIntersection string `toml:"sphere_intersection"`
		MaxRecursionDepth  uint32 `toml:"max_recursion_depth"`
	} `toml:"pipeline"`
	Camera *struct {
		Position [3]float32 `toml:"position"`
		Target   [3]float32 `toml:"target"`
		FOV      float32    `toml:"fov"`
	} `toml:"camera"`
	Meshes []struct {
		Path        string     `toml:"path"`
		Translation [3]float32 `toml:"translation"`
		// Euler angles in degrees, applied X, then Y, then Z.
		Rotation [3]float32  `toml:"rotation"`
		Scale    *[3]float32 `toml:"scale"`
	} `toml:"mesh"`
	Spheres []struct {
		Center [3]float32 `toml:"center"`
		Radius float32    `toml:"radius"`
	} `toml:"sphere"`
}

type SceneLoader struct{}

func (sl *SceneLoader) Kind() assets.Kind {
	return assets.KindScene
}

func (sl *SceneLoader) Extensions() []string {
	return []string{".scene.toml"}
}

func (sl *SceneLoader) Load(ctx *assets.LoadContext, data []byte) (any, error) {
	return ParseScene(data)
}

func ParseScene(data []byte) (*Scene, error) {
	var file sceneFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, core.Wrap(err, "decoding scene")
	}

	p := file.Pipeline
	for name, path := range map[string]string{
		"raygen":              p.Raygen,
		"miss":                p.Miss,
		"closest_hit":         p.ClosestHit,
		"sphere_closest_hit":  p.SphereClosestHit,
		"sphere_intersection": p.SphereIntersection,
	} {
		if path == "" {
			return nil, core.Wrapf(core.ErrShaderGroupsIncomplete, "pipeline.%s is not set", name)
		}
	}
	scene := &Scene{
		Pipeline: Pipeline{
			Raygen:             assets.HandleForPath(p.Raygen),
			Miss:               assets.HandleForPath(p.Miss),
			ClosestHit:         assets.HandleForPath(p.ClosestHit),
			SphereClosestHit:   assets.HandleForPath(p.SphereClosestHit),
			SphereIntersection: assets.HandleForPath(p.SphereIntersection),
			MaxRecursionDepth:  max(1, p.MaxRecursionDepth),
		},
		Camera: DefaultCamera(),
	}
	if c := file.Camera; c != nil {
		scene.Camera.Position = math.NewVec3(c.Position[0], c.Position[1], c.Position[2])
		scene.Camera.Target = math.NewVec3(c.Target[0], c.Target[1], c.Target[2])
		if c.FOV != 0 {
			scene.Camera.FOV = c.FOV
		}
		if scene.Camera.FOV <= 0 || scene.Camera.FOV >= 180 {
			return nil, core.Newf("camera fov %g is outside (0, 180)", scene.Camera.FOV)
		}
		if scene.Camera.Target.Sub(scene.Camera.Position).LengthSquared() == 0 {
			return nil, core.Newf("camera looks at its own position")
		}
	}

	for i, m := range file.Meshes {
		if m.Path == "" {
			return nil, core.Newf("mesh %d has no path", i)
		}
		scale := math.NewVec3One()
		if m.Scale != nil {
			scale = math.NewVec3(m.Scale[0], m.Scale[1], m.Scale[2])
		}
		t := math.TransformFromPositionRotationScale(
			math.NewVec3(m.Translation[0], m.Translation[1], m.Translation[2]),
			eulerDegrees(m.Rotation),
			scale,
		)
		scene.Meshes = append(scene.Meshes, MeshInstance{
			Mesh:      assets.HandleForPath(m.Path),
			Path:      assets.CleanPath(m.Path),
			Transform: t.GetLocal(),
		})
	}

	for i, s := range file.Spheres {
		if s.Radius <= 0 {
			return nil, core.Newf("sphere %d has radius %g", i, s.Radius)
		}
		center := math.NewVec3(s.Center[0], s.Center[1], s.Center[2])
		// the sphere geometry has a radius of 0.5
		d := 2 * s.Radius
		t := math.TransformFromPositionRotationScale(center, math.NewQuatIdentity(), math.NewVec3(d, d, d))
		scene.Spheres = append(scene.Spheres, SphereInstance{
			Center:    center,
			Radius:    s.Radius,
			Transform: t.GetLocal(),
		})
	}
	return scene, nil
}

func eulerDegrees(r [3]float32) math.Quaternion {
	x := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), math.DegToRad(r[0]))
	y := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), math.DegToRad(r[1]))
	z := math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.DegToRad(r[2]))
	return z.Mul(y).Mul(x).Normalize()
}
