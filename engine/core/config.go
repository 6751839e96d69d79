package core

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	// The Vulkan loader is resolved from the libvulkan linked into the binary.
	LoaderLinked = "linked"
	// The Vulkan loader is opened at runtime by goki/vulkan.
	LoaderSystem = "system"
	// The Vulkan loader is obtained through GLFW.
	LoaderGLFW = "glfw"

	MaxFramesInFlight = 8
)

type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Renderer RendererConfig `toml:"renderer"`
	Assets   AssetsConfig   `toml:"assets"`
	Log      LogConfig      `toml:"log"`
}

type EngineConfig struct {
	Name string `toml:"name"`
	// Number of frames the GPU may be working on at the same time. Also the
	// length of the destruction ring.
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Stop after this many frames, 0 runs until interrupted.
	FrameLimit uint64 `toml:"frame_limit"`
	Width      uint32 `toml:"width"`
	Height     uint32 `toml:"height"`
}

type RendererConfig struct {
	Backend           string `toml:"backend"`
	Loader            string `toml:"loader"`
	Validation        bool   `toml:"validation"`
	MaxBindlessImages uint32 `toml:"max_bindless_images"`
	BindlessBinding   uint32 `toml:"bindless_binding"`
}

type AssetsConfig struct {
	Root  string `toml:"root"`
	Scene string `toml:"scene"`
	Watch bool   `toml:"watch"`
	// Glob patterns, relative to Root, never loaded or watched.
	Ignore []string `toml:"ignore"`
	// Textures larger than this on either side are downscaled. 0 disables.
	MaxTextureSize uint32 `toml:"max_texture_size"`
	// Number of files decoded in parallel at startup.
	LoadConcurrency int `toml:"load_concurrency"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:           "anima-rt",
			FramesInFlight: 3,
			Width:          1280,
			Height:         720,
		},
		Renderer: RendererConfig{
			Backend:           BackendVulkan,
			Loader:            LoaderLinked,
			MaxBindlessImages: 16536,
			BindlessBinding:   16,
		},
		Assets: AssetsConfig{
			Root:            "assets",
			Scene:           "scenes/default.scene.toml",
			Watch:           true,
			Ignore:          []string{"**/.*", "**/*.tmp", "**/*~"},
			MaxTextureSize:  4096,
			LoadConcurrency: 4,
		},
		Log: LogConfig{
			Level:     "info",
			Formatter: "text",
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Engine.FramesInFlight == 0 || c.Engine.FramesInFlight > MaxFramesInFlight {
		return Newf("frames_in_flight must be in [1, %d], got %d", MaxFramesInFlight, c.Engine.FramesInFlight)
	}
	if c.Engine.Width == 0 || c.Engine.Height == 0 {
		return Newf("render target size must be non zero, got %dx%d", c.Engine.Width, c.Engine.Height)
	}
	switch c.Renderer.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return Wrapf(ErrUnknownBackend, "%q", c.Renderer.Backend)
	}
	switch c.Renderer.Loader {
	case LoaderLinked, LoaderSystem, LoaderGLFW:
	default:
		return Wrapf(ErrUnknownVulkanLoader, "%q", c.Renderer.Loader)
	}
	if c.Renderer.MaxBindlessImages == 0 {
		return Newf("max_bindless_images must be non zero")
	}
	if c.Assets.LoadConcurrency < 1 {
		c.Assets.LoadConcurrency = 1
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
