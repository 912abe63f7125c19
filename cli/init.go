package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigYAML = `# GRAPE-LM task server config
# Priority: CLI flag > GRAPELM_* env > this file > default.

WORK_DIR: "./"
ADDR: "127.0.0.1:12358"
WORKERS: 2
LOG_LEVEL: "info"          # debug | info | warn | error

GENERATOR: "command"       # command | builtin
# ${PARAMS_FILE}, ${OUTPUT_FILE} and ${TASK_ID} are expanded per task.
GEN_COMMAND: 'python3 -c "import json, sys; from grape.generate import generate; generate(json.load(open(sys.argv[1])))" ${PARAMS_FILE}'

MAX_UPLOAD_SIZE: "64MB"
THROTTLE_CPU: 0            # percent, 0 disables
THROTTLE_FREEMEM: "0B"
THROTTLE_FREEDISK: "0B"

AUTH_ENABLE: false
AUTH_KEY: ""
METRICS_ENABLE: true
SHUTDOWN_TIMEOUT: "10s"
`

// newInitCmd returns an "init" subcommand that writes defaultYAML.
func newInitCmd(defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the default configuration.

If --config is given the file is written to that path.
Otherwise it is written to ./grapelm_config.yaml.
Fails if the file already exists unless --force is passed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				dest = "grapelm_config.yaml"
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
