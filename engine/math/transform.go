package math

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	return &Transform{Position: position, Rotation: rotation, Scale: scale}
}

// GetLocal applies scale, then rotation, then translation.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	return NewMat4Scale(t.Scale).Mul(t.Rotation.ToMat4()).Mul(NewMat4Translation(t.Position))
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.Parent != nil {
		return t.GetLocal().Mul(t.Parent.GetWorld())
	}
	return t.GetLocal()
}
