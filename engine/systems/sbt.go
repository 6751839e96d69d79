package systems

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rt/engine/renderer/raytracing"
)

/**
 * @brief Keeps the shader binding table in step with the prepared meshes
 * and the current pipeline. The table is rewritten only when either of them
 * changed since the last update.
 */
type SBTSystem struct {
	rd     *renderer.RenderDevice
	queue  *renderer.DestructionQueue
	meshes *PreparedAssets[*PreparedMesh]
	table  *raytracing.ShaderBindingTable[assets.Handle]

	meshGeneration uint64
	pipeline       metadata.PipelineHandle
}

func NewSBTSystem(rd *renderer.RenderDevice, q *renderer.DestructionQueue, meshes *PreparedAssets[*PreparedMesh]) *SBTSystem {
	return &SBTSystem{
		rd:     rd,
		queue:  q,
		meshes: meshes,
		table:  raytracing.NewShaderBindingTable[assets.Handle](),
	}
}

func (s *SBTSystem) Table() *raytracing.ShaderBindingTable[assets.Handle] {
	return s.table
}

// HitOffset is the hit record of mesh h, if the table holds one.
func (s *SBTSystem) HitOffset(h assets.Handle) (uint32, bool) {
	off, ok := s.table.TriangleOffsets[h]
	return off, ok
}

// Update rewrites the table for p. It reports whether the table changed.
func (s *SBTSystem) Update(p *PreparedPipeline) (bool, error) {
	if p == nil {
		return false, nil
	}
	gen := s.meshes.Generation()
	if s.table.IsReady() && p.Pipeline == s.pipeline && gen == s.meshGeneration {
		return false, nil
	}

	handles := s.meshes.Handles()
	records := make([]raytracing.MeshHitRecord[assets.Handle], 0, len(handles))
	for _, h := range handles {
		mesh, ok := s.meshes.Get(h)
		if !ok {
			continue
		}
		records = append(records, mesh.HitRecord(h))
	}
	if err := s.table.Update(s.rd, s.queue, p.Handles, records); err != nil {
		return false, core.Wrap(err, "updating shader binding table")
	}
	s.pipeline = p.Pipeline
	s.meshGeneration = gen
	return true, nil
}

func (s *SBTSystem) Shutdown() {
	s.table.Release(s.queue)
}
