package renderer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func newTestDevice(t *testing.T) (*RenderDevice, *headless.Backend) {
	t.Helper()
	core.SetLogOutput(io.Discard)
	backend := headless.New()
	rd, err := NewRenderDevice(backend)
	require.NoError(t, err)
	return rd, backend
}

func TestZeroCountBufferIsNull(t *testing.T) {
	rd, backend := newTestDevice(t)

	buf, err := CreateDeviceBuffer[uint32](rd, 0, metadata.BufferUsageStorageBuffer)
	require.NoError(t, err)
	assert.True(t, buf.IsNull())
	assert.Equal(t, metadata.DeviceAddress(0), buf.Address)
	assert.Equal(t, 0, backend.Stats().Buffers)
	assert.Equal(t, 0, backend.Stats().Memory)

	view, err := buf.Map(rd)
	assert.NoError(t, err)
	assert.Nil(t, view)
}

func TestHostBufferMapAndAddress(t *testing.T) {
	rd, backend := newTestDevice(t)

	buf, err := CreateHostBuffer[float32](rd, 4, metadata.BufferUsageStorageBuffer)
	require.NoError(t, err)
	assert.NotZero(t, buf.Address)
	assert.NotZero(t, buf.Usage&metadata.BufferUsageShaderDeviceAddress)

	view, err := buf.Map(rd)
	require.NoError(t, err)
	require.Len(t, view, 4)
	view[2] = 1.5

	raw, ok := backend.BufferContents(buf.Handle)
	require.True(t, ok)
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(raw[8:])))

	rd.DestroyBuffer(buf.Handle)
	assert.Empty(t, backend.Violations())
}

func TestMapDeviceLocalIsFatal(t *testing.T) {
	rd, _ := newTestDevice(t)

	buf, err := CreateDeviceBuffer[uint32](rd, 8, metadata.BufferUsageStorageBuffer)
	require.NoError(t, err)
	_, err = buf.Map(rd)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	rd.DestroyBuffer(buf.Handle)
}

func TestCreateDeviceBufferFromUploads(t *testing.T) {
	rd, backend := newTestDevice(t)

	data := []uint32{7, 8, 9, 10}
	buf, err := CreateDeviceBufferFrom(rd, rd.MainContext(), data, metadata.BufferUsageIndexBuffer)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), buf.Count)

	raw, ok := backend.BufferContents(buf.Handle)
	require.True(t, ok)
	for i, v := range data {
		assert.Equal(t, v, binary.LittleEndian.Uint32(raw[i*4:]))
	}

	// only the destination buffer survives the staging copy
	buffers, _ := rd.LiveAllocations()
	assert.Equal(t, 1, buffers)
	rd.DestroyBuffer(buf.Handle)
	buffers, _ = rd.LiveAllocations()
	assert.Equal(t, 0, buffers)
	assert.Equal(t, 0, backend.Stats().Memory)
	assert.Empty(t, backend.Violations())
}

func TestUploadRejectsOversizedSource(t *testing.T) {
	rd, _ := newTestDevice(t)

	src, err := CreateHostBuffer[uint32](rd, 8, metadata.BufferUsageTransferSrc)
	require.NoError(t, err)
	dst, err := CreateDeviceBuffer[uint32](rd, 4, metadata.BufferUsageTransferDst)
	require.NoError(t, err)

	err = Upload(rd, 0, src, dst)
	assert.True(t, core.IsFatal(err))
}

func TestLoadTexture(t *testing.T) {
	rd, backend := newTestDevice(t)

	pixels := make([]byte, 2*2*4)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	img, err := LoadTexture(rd, rd.MainContext(), metadata.FormatR8G8B8A8Unorm, pixels, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, img.Layout)

	texels, layout, ok := backend.ImageContents(img.Handle)
	require.True(t, ok)
	assert.Equal(t, pixels, texels)
	assert.Equal(t, metadata.ImageLayoutShaderReadOnly, layout)

	buffers, images := rd.LiveAllocations()
	assert.Equal(t, 0, buffers)
	assert.Equal(t, 1, images)
	assert.Empty(t, backend.Violations())
}

func TestLoadTextureValidation(t *testing.T) {
	rd, _ := newTestDevice(t)

	_, err := LoadTexture(rd, rd.MainContext(), metadata.FormatR8G8B8A8Unorm, make([]byte, 15), 2, 2)
	assert.True(t, core.IsFatal(err))

	_, err = LoadTexture(rd, rd.MainContext(), metadata.FormatB8G8R8A8Unorm, make([]byte, 16), 2, 2)
	assert.True(t, errors.Is(err, core.ErrUnsupportedFormat))

	img, err := LoadTexture(rd, rd.MainContext(), metadata.FormatR32G32B32A32Sfloat, make([]byte, 16), 1, 1)
	require.NoError(t, err)
	assert.False(t, img.IsNull())
}

func TestPadRGBToRGBA(t *testing.T) {
	out, err := PadRGBToRGBA([]byte{1, 2, 3, 4, 5, 6}, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 255, 4, 5, 6, 255}, out)

	_, err = PadRGBToRGBA([]byte{1, 2}, 1, 1)
	assert.True(t, core.IsFatal(err))
}

func TestDestructionQueueWaitsForFramesInFlight(t *testing.T) {
	rd, backend := newTestDevice(t)
	q := NewDestructionQueue(rd, 3)
	defer q.Shutdown()

	buf, err := CreateHostBuffer[byte](rd, 64, 0)
	require.NoError(t, err)
	handle := buf.Handle
	buf.Release(q)
	assert.True(t, buf.IsNull())

	for frame := 1; frame <= 2; frame++ {
		q.NextFrame()
		q.Sync()
		_, alive := backend.BufferContents(handle)
		assert.True(t, alive, "destroyed after %d frame(s)", frame)
	}

	q.NextFrame()
	q.Sync()
	_, alive := backend.BufferContents(handle)
	assert.False(t, alive)
	assert.Equal(t, uint64(1), q.Executed())
	assert.Equal(t, 0, q.Pending())
}

func TestDestructionQueueShutdownDrainsEverything(t *testing.T) {
	rd, backend := newTestDevice(t)
	q := NewDestructionQueue(rd, 2)

	for i := 0; i < 5; i++ {
		buf, err := CreateHostBuffer[uint64](rd, 4, 0)
		require.NoError(t, err)
		buf.Release(q)
		if i%2 == 1 {
			q.NextFrame()
		}
	}
	q.Shutdown()

	assert.Equal(t, uint64(5), q.Executed())
	assert.Equal(t, 0, backend.Stats().Buffers)
	assert.Equal(t, 0, backend.Stats().Memory)
	assert.GreaterOrEqual(t, backend.Stats().WaitIdles, uint64(1))

	// the device is idle from now on, so late pushes run right away
	buf, err := CreateHostBuffer[uint64](rd, 4, 0)
	require.NoError(t, err)
	buf.Release(q)
	assert.Equal(t, uint64(6), q.Executed())
	assert.Equal(t, 0, backend.Stats().Buffers)

	q.Shutdown()
	assert.Empty(t, backend.Violations())
}

func TestDestructionQueueKeepsInsertionOrder(t *testing.T) {
	rd, backend := newTestDevice(t)
	q := NewDestructionQueue(rd, 1)
	defer q.Shutdown()

	img, err := CreateImage(rd, metadata.ImageCreateInfo{Width: 4, Height: 4, Format: metadata.FormatR8G8B8A8Unorm, Usage: metadata.ImageUsageStorage})
	require.NoError(t, err)
	img.Release(q)
	q.NextFrame()
	q.Sync()

	assert.Equal(t, 0, backend.Stats().Images)
	assert.Equal(t, 0, backend.Stats().ImageViews)
	// the view goes first, so the backend saw no image destroyed under a live view
	assert.Empty(t, backend.Violations())
}

func TestBindlessTableMemoizesSlots(t *testing.T) {
	rd, backend := newTestDevice(t)
	table, err := NewBindlessTable(rd, DefaultBindlessBinding, 2)
	require.NoError(t, err)

	var images []Image
	for i := 0; i < 3; i++ {
		img, err := CreateImage(rd, metadata.ImageCreateInfo{Width: 1, Height: 1, Format: metadata.FormatR8G8B8A8Unorm, Usage: metadata.ImageUsageSampled})
		require.NoError(t, err)
		images = append(images, img)
	}

	a, err := table.Push(images[0].View)
	require.NoError(t, err)
	b, err := table.Push(images[1].View)
	require.NoError(t, err)
	again, err := table.Push(images[0].View)
	require.NoError(t, err)

	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)
	assert.Equal(t, a, again)
	assert.Equal(t, 2, table.Len())

	view, ok := backend.DescriptorImage(table.DescriptorSet().Set, DefaultBindlessBinding, 1)
	require.True(t, ok)
	assert.Equal(t, images[1].View, view)

	_, err = table.Push(images[2].View)
	assert.True(t, errors.Is(err, core.ErrBindlessTableFull))

	_, err = table.Push(metadata.NullImageView)
	assert.Error(t, err)
}

func TestRenderDeviceShutdownReleasesEverything(t *testing.T) {
	rd, backend := newTestDevice(t)
	q := NewDestructionQueue(rd, 3)

	table, err := NewBindlessTable(rd, DefaultBindlessBinding, 8)
	require.NoError(t, err)
	img, err := LoadTexture(rd, rd.MainContext(), metadata.FormatR8G8B8A8Unorm, make([]byte, 4), 1, 1)
	require.NoError(t, err)
	_, err = table.Push(img.View)
	require.NoError(t, err)

	img.Release(q)
	table.Destroy(q)
	q.Shutdown()
	require.NoError(t, rd.Shutdown())

	assert.Equal(t, 0, backend.LiveObjects())
	assert.Empty(t, backend.Violations())
}

func TestShutdownReportsLeakedBuffersInHandleOrder(t *testing.T) {
	rd, _ := newTestDevice(t)
	var logs bytes.Buffer
	core.SetLogOutput(&logs)
	defer core.SetLogOutput(io.Discard)

	var handles []metadata.BufferHandle
	for range 3 {
		buf, err := CreateHostBuffer[uint32](rd, 4, metadata.BufferUsageStorageBuffer)
		require.NoError(t, err)
		handles = append(handles, buf.Handle)
	}
	require.NoError(t, rd.Shutdown())

	out := logs.String()
	last := -1
	for _, h := range handles {
		at := strings.Index(out, fmt.Sprintf("buffer %d (", h))
		require.GreaterOrEqual(t, at, 0, "buffer %d", h)
		assert.Greater(t, at, last)
		last = at
	}
}
