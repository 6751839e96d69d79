package renderer

import (
	"time"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// FenceTimeout bounds every wait on a command context.
const FenceTimeout = 10 * time.Second

type CommandContextState int

const (
	COMMAND_CONTEXT_STATE_READY CommandContextState = iota
	COMMAND_CONTEXT_STATE_RECORDING
	COMMAND_CONTEXT_STATE_SUBMITTED
	COMMAND_CONTEXT_STATE_DESTROYED
)

/**
 * @brief A command pool with one reusable command buffer and the fence its
 * submissions signal. Each context belongs to exactly one goroutine.
 */
type CommandContext struct {
	rd    *RenderDevice
	name  string
	pool  metadata.CommandPoolHandle
	cmd   metadata.CommandBufferHandle
	fence metadata.FenceHandle
	state CommandContextState
}

func (rd *RenderDevice) NewCommandContext(name string) (*CommandContext, error) {
	b := rd.backend
	pool, err := b.CreateCommandPool()
	if err != nil {
		return nil, core.Wrapf(err, "creating command pool %s", name)
	}
	cmd, err := b.AllocateCommandBuffer(pool)
	if err != nil {
		b.DestroyCommandPool(pool)
		return nil, core.Wrapf(err, "allocating command buffer %s", name)
	}
	fence, err := b.CreateFence(false)
	if err != nil {
		b.DestroyCommandPool(pool)
		return nil, core.Wrapf(err, "creating fence %s", name)
	}
	return &CommandContext{rd: rd, name: name, pool: pool, cmd: cmd, fence: fence}, nil
}

func (c *CommandContext) Name() string {
	return c.name
}

func (c *CommandContext) State() CommandContextState {
	return c.state
}

// Begin starts recording and returns the command buffer to record into.
func (c *CommandContext) Begin() (metadata.CommandBufferHandle, error) {
	if c.state != COMMAND_CONTEXT_STATE_READY {
		return 0, core.Assertf("command context %s begun in state %d", c.name, c.state)
	}
	if err := c.rd.backend.BeginCommandBuffer(c.cmd, true); err != nil {
		return 0, core.Wrapf(err, "beginning %s", c.name)
	}
	c.state = COMMAND_CONTEXT_STATE_RECORDING
	return c.cmd, nil
}

// Submit ends the recording and submits it without waiting.
func (c *CommandContext) Submit() error {
	if c.state != COMMAND_CONTEXT_STATE_RECORDING {
		return core.Assertf("command context %s submitted in state %d", c.name, c.state)
	}
	if err := c.rd.backend.EndCommandBuffer(c.cmd); err != nil {
		return core.Wrapf(err, "ending %s", c.name)
	}
	if err := c.rd.Submit(c.cmd, c.fence); err != nil {
		c.state = COMMAND_CONTEXT_STATE_READY
		return core.Wrapf(err, "submitting %s", c.name)
	}
	c.state = COMMAND_CONTEXT_STATE_SUBMITTED
	return nil
}

// Wait blocks until the last submission finished and makes the context
// ready for the next recording.
func (c *CommandContext) Wait() error {
	if c.state != COMMAND_CONTEXT_STATE_SUBMITTED {
		return nil
	}
	if err := c.rd.backend.WaitForFence(c.fence, uint64(FenceTimeout.Nanoseconds())); err != nil {
		return core.Wrapf(err, "waiting for %s", c.name)
	}
	if err := c.rd.backend.ResetFence(c.fence); err != nil {
		return core.Wrapf(err, "resetting fence of %s", c.name)
	}
	c.state = COMMAND_CONTEXT_STATE_READY
	return nil
}

func (c *CommandContext) SubmitAndWait() error {
	if err := c.Submit(); err != nil {
		return err
	}
	return c.Wait()
}

// Run records with fn, submits and waits for completion.
func (c *CommandContext) Run(fn func(cmd metadata.CommandBufferHandle) error) error {
	cmd, err := c.Begin()
	if err != nil {
		return err
	}
	if err := fn(cmd); err != nil {
		// Close the recording so the context stays usable.
		_ = c.rd.backend.EndCommandBuffer(c.cmd)
		c.state = COMMAND_CONTEXT_STATE_READY
		return err
	}
	return c.SubmitAndWait()
}

func (c *CommandContext) Destroy() {
	if c.state == COMMAND_CONTEXT_STATE_DESTROYED {
		return
	}
	if err := c.Wait(); err != nil {
		core.LogError(err.Error())
	}
	c.rd.backend.DestroyFence(c.fence)
	c.rd.backend.DestroyCommandPool(c.pool)
	c.state = COMMAND_CONTEXT_STATE_DESTROYED
}
