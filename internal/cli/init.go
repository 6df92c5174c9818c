package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create starter .counters.yml, counters.json, and namemap.json in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getwd: %w", err)
			}

			wrote := 0
			for _, f := range initFiles {
				path := filepath.Join(cwd, f.name)
				if _, err := os.Stat(path); err == nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skip: %s already exists\n", f.name)
					continue
				}
				if err := os.WriteFile(path, []byte(f.content), 0o600); err != nil {
					return fmt.Errorf("write %s: %w", f.name, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", f.name)
				wrote++
			}

			if wrote == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Nothing to do — all config files already exist.")
			}
			return nil
		},
	}
	return cmd
}

type initFile struct {
	name    string
	content string
}

var initFiles = []initFile{
	{
		name: ".counters.yml",
		content: `# counters engine configuration
# See: https://github.com/ppiankov/counters

use_short_names: false
debug_mode: false
undefined_field_is_true: false
split_intervals: []

message_type_field: t
catalogue_file: counters.json
name_map_file: namemap.json

store:
  driver: memory
  # uri: mongodb://localhost:27017
  # database: counters

metrics:
  listen_addr: ":9090"

# notifications:
#   - type: webhook
#     url: "https://hooks.example.com/counters"
#     on: ["contributing", "threshold_crossed"]
`,
	},
	{
		name: "counters.json",
		content: `[
  {
    "name": "starter_counter",
    "comment": "Replace with real computation/evaluation conditions.",
    "computationConditions": {},
    "evaluationConditions": {},
    "attributes": {
      "count": {"$sum": 1}
    }
  }
]
`,
	},
	{
		name:    "namemap.json",
		content: "[]\n",
	},
}
