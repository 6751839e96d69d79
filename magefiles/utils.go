//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/magefile/mage/mg"
)

type command struct {
	name   string
	args   []string
	dir    string
	env    []string
	stream bool
}

type cmdOption func(*command)

func withArgs(args ...string) cmdOption {
	return func(c *command) {
		c.args = args
	}
}

// withDir runs the command from dir, relative to the repository root.
func withDir(dir string) cmdOption {
	return func(c *command) {
		c.dir = dir
	}
}

func withEnv(kv ...string) cmdOption {
	return func(c *command) {
		c.env = append(c.env, kv...)
	}
}

func withStream() cmdOption {
	return func(c *command) {
		c.stream = true
	}
}

// executeCmd runs name and returns its combined output. Output is echoed
// while running with -v or withStream, otherwise only when it fails.
func executeCmd(name string, options ...cmdOption) (string, error) {
	c := &command{name: name}
	for _, o := range options {
		o(c)
	}
	return c.run()
}

func (c *command) String() string {
	s := strings.TrimSpace(c.name + " " + strings.Join(c.args, " "))
	if c.dir != "" {
		s += " (in " + c.dir + ")"
	}
	return s
}

func (c *command) run() (string, error) {
	fmt.Println("Executing:", c)

	cmd := exec.Command(c.name, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	var out bytes.Buffer
	echo := mg.Verbose() || c.stream
	if echo {
		cmd.Stdout = io.MultiWriter(&out, os.Stdout)
		cmd.Stderr = io.MultiWriter(&out, os.Stderr)
	} else {
		cmd.Stdout = &out
		cmd.Stderr = &out
	}

	if err := cmd.Run(); err != nil {
		if !echo {
			fmt.Println("... failed command output:")
			fmt.Println(out.String())
		}
		return "", fmt.Errorf("error executing %s: %w", c.name, err)
	}
	return out.String(), nil
}
