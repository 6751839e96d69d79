package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsFatalLooksThroughWrapping(t *testing.T) {
	assertion := Assertf("geometry %d has %d indices", 0, 4)
	assert.True(t, IsFatal(assertion))
	assert.True(t, IsFatal(Wrapf(assertion, "preparing mesh %s", "cube.obj")))
	assert.True(t, IsFatal(Wrap(Wrap(assertion, "building blas"), "preparing mesh")))

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(Newf("file %s is busy", "cube.obj")))
	assert.False(t, IsFatal(Wrap(ErrTimeout, "waiting for fence")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Wrap(ErrTargetOutOfDate, "presenting")))
	assert.True(t, IsTransient(ErrTargetSuboptimal))
	assert.False(t, IsTransient(Wrap(ErrTimeout, "presenting")))
	assert.False(t, IsFatal(Wrap(ErrTargetOutOfDate, "presenting")))
}
