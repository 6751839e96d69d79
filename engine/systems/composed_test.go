package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-rt/engine/assets"
)

func TestDependencyIndex(t *testing.T) {
	d := NewDependencyIndex()
	tex := assets.HandleForPath("textures/red.png")
	other := assets.HandleForPath("textures/blue.png")
	cube := assets.HandleForPath("models/cube.obj")
	quad := assets.HandleForPath("models/quad.obj")

	d.Track(cube, []assets.Handle{tex, other})
	d.Track(quad, []assets.Handle{tex})
	assert.Len(t, d.Dependents(tex), 2)
	assert.Equal(t, []assets.Handle{cube}, d.Dependents(other))

	assert.Nil(t, d.Take())
	assert.Equal(t, 2, d.Touch(tex))
	assert.Equal(t, 1, d.Touch(other))
	taken := d.Take()
	assert.ElementsMatch(t, []assets.Handle{cube, quad}, taken)
	assert.Nil(t, d.Take())

	// retracking drops the old edges
	d.Track(cube, []assets.Handle{tex})
	assert.Empty(t, d.Dependents(other))
	assert.Zero(t, d.Touch(other))

	d.Forget(quad)
	assert.Equal(t, []assets.Handle{cube}, d.Dependents(tex))

	d.Track(cube, nil)
	assert.Empty(t, d.Dependents(tex))
	assert.Nil(t, d.Take())
}
