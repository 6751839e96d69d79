package loaders

import (
	"github.com/spaghettifunk/anima-rt/engine/assets"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

// Register installs the loader of every file type the engine reads.
func Register(server *assets.Server, cfg core.AssetsConfig) error {
	for _, l := range []assets.Loader{
		&TextureLoader{MaxSize: cfg.MaxTextureSize},
		&ModelLoader{},
		&ShaderLoader{},
		&SceneLoader{},
	} {
		if err := server.RegisterLoader(l); err != nil {
			return err
		}
	}
	return nil
}
