package systems

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/math"
)

func TestCameraUniformPlacesTheEye(t *testing.T) {
	c := loaders.Camera{Position: math.NewVec3(0, 2, 8), Target: math.NewVec3Zero(), FOV: 60}
	u := NewCameraUniform(c, 16.0/9.0)

	eye := math.NewVec3Zero().Transform(u.ViewInverse)
	assert.InDelta(t, 0, eye.X, 1e-4)
	assert.InDelta(t, 2, eye.Y, 1e-4)
	assert.InDelta(t, 8, eye.Z, 1e-4)
}

func TestCameraSystemWritesOnlyOnChange(t *testing.T) {
	dev := newTestDevice(t)
	cs, err := NewCameraSystem(dev.rd)
	require.NoError(t, err)
	assert.NotZero(t, cs.Address())

	require.NoError(t, cs.Update(64, 32))
	raw, ok := dev.backend.BufferContents(cs.buffer.Handle)
	require.True(t, ok)
	require.Len(t, raw, int(unsafe.Sizeof(CameraUniform{})))
	assert.NotEqual(t, make([]byte, len(raw)), raw)

	// clobber it: an unchanged camera leaves the buffer alone
	require.NoError(t, cs.buffer.Write(dev.rd, []CameraUniform{{}}))
	require.NoError(t, cs.Update(64, 32))
	raw, _ = dev.backend.BufferContents(cs.buffer.Handle)
	assert.Equal(t, make([]byte, len(raw)), raw)

	cs.SetCamera(loaders.Camera{Position: math.NewVec3(1, 1, 1), Target: math.NewVec3Zero(), FOV: 45})
	require.NoError(t, cs.Update(64, 32))
	raw, _ = dev.backend.BufferContents(cs.buffer.Handle)
	assert.NotEqual(t, make([]byte, len(raw)), raw)

	pc := cs.PushConstants()
	require.Len(t, pc, PushConstantSize)
	assert.Equal(t, uint64(cs.Address()), binary.LittleEndian.Uint64(pc))

	cs.Shutdown(dev.queue)
}
