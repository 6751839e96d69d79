package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/**
 * @brief Turns the active scene into the top level structure. Spheres come
 * first and share one procedural BLAS and the first hit record; meshes
 * follow with the hit record the SBT assigned them. An instance's custom
 * index is its position in that list.
 */
type SceneSystem struct {
	rd      *renderer.RenderDevice
	queue   *renderer.DestructionQueue
	server  *assets.Server
	builder *raytracing.Builder
	meshes  *PreparedAssets[*PreparedMesh]
	sbt     *SBTSystem

	scene   assets.Handle
	cmds    *renderer.CommandContext
	spheres raytracing.ProceduralBLAS
	tlas    *raytracing.TLAS

	instances []metadata.AccelerationStructureInstance
	missing   map[assets.Handle]struct{}
}

func NewSceneSystem(rd *renderer.RenderDevice, q *renderer.DestructionQueue, server *assets.Server, builder *raytracing.Builder,
	meshes *PreparedAssets[*PreparedMesh], sbt *SBTSystem, scenePath string) (*SceneSystem, error) {
	cmds, err := rd.NewCommandContext("scene")
	if err != nil {
		return nil, err
	}
	return &SceneSystem{
		rd:      rd,
		queue:   q,
		server:  server,
		builder: builder,
		meshes:  meshes,
		sbt:     sbt,
		scene:   assets.HandleForPath(scenePath),
		cmds:    cmds,
		tlas:    raytracing.NewTLAS(builder),
		missing: map[assets.Handle]struct{}{},
	}, nil
}

func (ss *SceneSystem) SceneHandle() assets.Handle {
	return ss.scene
}

// Scene resolves the active scene from the server.
func (ss *SceneSystem) Scene() (*loaders.Scene, bool) {
	return assets.Get[*loaders.Scene](ss.server, ss.scene)
}

func (ss *SceneSystem) TLAS() *raytracing.TLAS {
	return ss.tlas
}

// Instances are the instances of the last build.
func (ss *SceneSystem) Instances() []metadata.AccelerationStructureInstance {
	return ss.instances
}

func (ss *SceneSystem) sphereBLAS() (metadata.DeviceAddress, error) {
	if !ss.spheres.AccelerationStructure.IsReady() {
		blas, err := ss.builder.BuildSphereBLAS(ss.cmds)
		if err != nil {
			return 0, core.Wrap(err, "building sphere blas")
		}
		ss.spheres = blas
	}
	return ss.spheres.Reference(), nil
}

// collect packs the instances of scene. Meshes that are not prepared yet,
// or have no hit record, are left out until they are.
func (ss *SceneSystem) collect(scene *loaders.Scene) ([]metadata.AccelerationStructureInstance, error) {
	instances := make([]metadata.AccelerationStructureInstance, 0, len(scene.Spheres)+len(scene.Meshes))
	if len(scene.Spheres) > 0 {
		blas, err := ss.sphereBLAS()
		if err != nil {
			return nil, err
		}
		for _, s := range scene.Spheres {
			i := uint32(len(instances))
			instances = append(instances, raytracing.NewInstance(s.Transform, i, raytracing.SphereHitOffset, blas))
		}
	}
	for _, m := range scene.Meshes {
		mesh, ok := ss.meshes.Get(m.Mesh)
		if !ok {
			ss.reportMissing(m)
			continue
		}
		offset, ok := ss.sbt.HitOffset(m.Mesh)
		if !ok {
			ss.reportMissing(m)
			continue
		}
		delete(ss.missing, m.Mesh)
		i := uint32(len(instances))
		instances = append(instances, raytracing.NewInstance(m.Transform, i, offset, mesh.BLAS.Reference()))
	}
	return instances, nil
}

func (ss *SceneSystem) reportMissing(m loaders.MeshInstance) {
	if _, seen := ss.missing[m.Mesh]; !seen {
		ss.missing[m.Mesh] = struct{}{}
		core.LogDebug("mesh %s is not prepared yet, leaving it out of the scene", m.Path)
	}
}

/**
 * @brief Rebuilds the TLAS from the current scene and points the TLAS
 * binding of set at it. Returns false when there is nothing to trace yet.
 */
func (ss *SceneSystem) Update(set metadata.DescriptorSetHandle) (bool, error) {
	scene, ok := ss.Scene()
	if !ok {
		return false, nil
	}
	instances, err := ss.collect(scene)
	if err != nil {
		return false, err
	}
	ss.instances = instances
	if len(instances) == 0 {
		return false, nil
	}
	if err := ss.tlas.Build(ss.cmds, instances, ss.queue); err != nil {
		return false, err
	}
	ss.rd.Backend().WriteDescriptorAccelerationStructure(set, TLASBinding, ss.tlas.Handle())
	return true, nil
}

func (ss *SceneSystem) Shutdown() {
	ss.tlas.Release(ss.queue)
	ss.spheres.Release(ss.queue)
	ss.cmds.Destroy()
}
