package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const tolerance = float32(1e-5)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{32, 32, 32},
		{33, 32, 64},
		{56, 64, 64},
		{129, 128, 256},
		{7, 0, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.align), "AlignUp(%d, %d)", tt.v, tt.align)
		assert.True(t, IsAligned(AlignUp(tt.v, tt.align), tt.align))
	}
	assert.Equal(t, uint32(64), AlignUp[uint32](33, 64))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo[uint32](1))
	assert.True(t, IsPowerOfTwo[uint32](256))
	assert.False(t, IsPowerOfTwo[uint32](0))
	assert.False(t, IsPowerOfTwo[uint32](96))
}

func TestQuaternionRotatesRowVectors(t *testing.T) {
	q := NewQuatFromAxisAngle(NewVec3(0, 0, 1), DegToRad(90))
	got := NewVec3(1, 0, 0).Transform(q.ToMat4())
	assert.True(t, got.Compare(NewVec3(0, 1, 0), tolerance), "got %v", got)
}

func TestTransformOrder(t *testing.T) {
	tr := TransformFromPositionRotationScale(
		NewVec3(10, 0, 0),
		NewQuatFromAxisAngle(NewVec3(0, 0, 1), DegToRad(90)),
		NewVec3(2, 2, 2),
	)
	// scale to (2,0,0), rotate to (0,2,0), translate to (10,2,0)
	got := NewVec3(1, 0, 0).Transform(tr.GetWorld())
	assert.True(t, got.Compare(NewVec3(10, 2, 0), tolerance), "got %v", got)
}

func TestAffineLayout(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3))
	assert.Equal(t, Affine3x4{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
	}, m.Affine())
	assert.Equal(t, IdentityAffine(), NewMat4Identity().Affine())

	// a rotation must land transposed relative to the row vector storage
	q := NewQuatFromAxisAngle(NewVec3(0, 0, 1), DegToRad(90)).ToMat4()
	a := q.Affine()
	// column vector form: x axis maps to y, so row 1 column 0 is 1
	assert.InDelta(t, 1.0, a[1*4+0], 1e-5)
	assert.InDelta(t, -1.0, a[0*4+1], 1e-5)
}

func TestLookAtMovesTheEyeToTheOrigin(t *testing.T) {
	eye := NewVec3(0, 2, 8)
	view := NewMat4LookAt(eye, NewVec3Zero(), NewVec3(0, 1, 0))

	assert.True(t, eye.Transform(view).Compare(NewVec3Zero(), tolerance))
	// the target lies straight ahead, down -Z
	got := NewVec3Zero().Transform(view)
	assert.InDelta(t, 0, got.X, 1e-5)
	assert.InDelta(t, 0, got.Y, 1e-5)
	assert.InDelta(t, -eye.Length(), got.Z, 1e-4)
	// +X stays on the right
	assert.Greater(t, NewVec3(1, 0, 0).Transform(view).X, float32(0))
}

func TestInverse(t *testing.T) {
	m := TransformFromPositionRotationScale(
		NewVec3(1, -2, 3),
		NewQuatFromAxisAngle(NewVec3(0, 1, 0), DegToRad(30)),
		NewVec3(2, 2, 2),
	).GetLocal()
	id := m.Mul(m.Inverse())
	want := NewMat4Identity()
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], id.Data[i], 1e-5, "element %d", i)
	}

	proj := NewMat4Perspective(DegToRad(60), 16.0/9.0, 0.1, 100)
	id = proj.Inverse().Mul(proj)
	for i := range want.Data {
		assert.InDelta(t, want.Data[i], id.Data[i], 1e-4, "element %d", i)
	}
}
