package systems

import (
	"encoding/binary"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/math"
	"github.com/spaghettifunk/anima-rt/engine/renderer"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

const (
	cameraNearClip float32 = 0.1
	cameraFarClip  float32 = 1000.0
)

// CameraUniform is what the raygen shader reads to turn a pixel into a ray.
type CameraUniform struct {
	ViewInverse math.Mat4
	ProjInverse math.Mat4
}

// NewCameraUniform builds the uniform of camera c for an image of the
// given aspect ratio.
func NewCameraUniform(c loaders.Camera, aspect float32) CameraUniform {
	view := math.NewMat4LookAt(c.Position, c.Target, math.NewVec3(0, 1, 0))
	proj := math.NewMat4Perspective(math.DegToRad(c.FOV), aspect, cameraNearClip, cameraFarClip)
	return CameraUniform{
		ViewInverse: view.Inverse(),
		ProjInverse: proj.Inverse(),
	}
}

/**
 * @brief Owns the camera uniform buffer. The buffer is host visible and
 * only rewritten when the camera or the output extent changes; the frame
 * fence is waited on before the next frame writes it.
 */
type CameraSystem struct {
	rd     *renderer.RenderDevice
	buffer renderer.Buffer[CameraUniform]

	camera loaders.Camera
	width  uint32
	height uint32
	dirty  bool
}

func NewCameraSystem(rd *renderer.RenderDevice) (*CameraSystem, error) {
	buf, err := renderer.CreateHostBuffer[CameraUniform](rd, 1, metadata.BufferUsageUniformBuffer)
	if err != nil {
		return nil, core.Wrap(err, "creating camera uniform")
	}
	return &CameraSystem{
		rd:     rd,
		buffer: buf,
		camera: loaders.DefaultCamera(),
		dirty:  true,
	}, nil
}

func (cs *CameraSystem) SetCamera(c loaders.Camera) {
	if c != cs.camera {
		cs.camera = c
		cs.dirty = true
	}
}

func (cs *CameraSystem) Camera() loaders.Camera {
	return cs.camera
}

// Update rewrites the uniform if anything changed since the last call.
func (cs *CameraSystem) Update(width, height uint32) error {
	if width != cs.width || height != cs.height {
		cs.width, cs.height = width, height
		cs.dirty = true
	}
	if !cs.dirty || width == 0 || height == 0 {
		return nil
	}
	u := NewCameraUniform(cs.camera, float32(width)/float32(height))
	if err := cs.buffer.Write(cs.rd, []CameraUniform{u}); err != nil {
		return core.Wrap(err, "writing camera uniform")
	}
	cs.dirty = false
	return nil
}

func (cs *CameraSystem) Address() metadata.DeviceAddress {
	return cs.buffer.Address
}

// PushConstants is the push constant block of the trace: the camera address.
func (cs *CameraSystem) PushConstants() []byte {
	out := make([]byte, PushConstantSize)
	binary.LittleEndian.PutUint64(out, uint64(cs.buffer.Address))
	return out
}

func (cs *CameraSystem) Shutdown(q *renderer.DestructionQueue) {
	cs.buffer.Release(q)
}
