//go:build mage

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Stages glslc compiles; the output keeps the stage in its name (raygen.rgen.spv).
var shaderStages = []string{".rgen", ".rmiss", ".rchit", ".rahit", ".rint"}

// Compiles every ray tracing stage under assets/shaders to SPIR-V.
func (Build) Shaders() error {
	entries, err := os.ReadDir(shaderDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", shaderDir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !isShaderStage(e.Name()) {
			continue
		}
		src := e.Name()
		args := withArgs("--target-env=vulkan1.2", src, "-o", src+".spv")
		if _, err := executeCmd("glslc", args, withDir(shaderDir), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the anima-rt binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima-rt", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func isShaderStage(name string) bool {
	for _, ext := range shaderStages {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
