package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// FromCobraCmd creates a LPConfig from the flags of a cobra command. A --config file that was
// asked for explicitly must exist.
func FromCobraCmd(cmd *cobra.Command) (*LPConfig, error) {
	flags := cmd.Flags()

	var paths []string
	if flag := flags.Lookup("config"); flag != nil && flag.Changed {
		fileLoc, err := flags.GetString("config")
		if err != nil {
			return nil, fmt.Errorf("could not get config file location: %w", err)
		}
		if _, err := os.Stat(fileLoc); err != nil {
			return nil, fmt.Errorf("could not load config file: %w", err)
		}
		paths = append(paths, fileLoc)
	}

	return Load(flags, paths...)
}
