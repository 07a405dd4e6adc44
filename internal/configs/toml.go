package configs

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadTOML loads a TOML file into a struct. Keys that do not map to a field
// are rejected so typos in hand-written files surface early.
func LoadTOML(filePath string, data interface{}) error {
	md, err := toml.DecodeFile(filePath, data)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return nil
}
