package mathx

// Transform is an entity's position, rotation and scale.
type Transform struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

// NewTransform returns a transform at the origin with identity rotation and
// unit scale.
func NewTransform() Transform {
	return Transform{Rotation: Identity, Scale: One}
}
