package math

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

/**
 * @brief a 4x4 matrix, typically used to represent object transformations.
 * Vectors are treated as rows (v' = v * M), so the translation lives in
 * elements 12, 13 and 14.
 */
type Mat4 struct {
	/** @brief The matrix elements */
	Data [16]float32
}

/**
 * @brief A row-major 3x4 affine matrix, the layout ray tracing instances
 * expect (column vectors, translation in the last column).
 */
type Affine3x4 [12]float32

// Transform is a scale, rotation and translation applied in that order, then
// the parent's world transform if there is one.
type Transform struct {
	Position Vec3
	Rotation Quaternion
	Scale    Vec3
	Parent   *Transform
}
