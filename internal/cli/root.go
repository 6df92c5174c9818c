package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/ppiankov/counters/internal/config"
	"github.com/spf13/cobra"
)

var (
	version       string
	catalogue     string
	nameMapFile   string
	storeDriver   string
	storeURI      string
	storeDatabase string
	indexSchema   string
	debugMode     bool
	verbose       bool
	cfg           config.Config
)

// BuildInfo holds version and build metadata.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

func newRootCmd(info BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "counters",
		Short: "Fact-matching counters engine",
		Long:  "Matches immutable facts against a catalogue of parametric counters and reports which counters a fact contributes to and how many it perturbs.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cwd, _ := os.Getwd()
			var err error
			cfg, err = config.Load(cwd)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			// Apply config defaults where CLI flags were not explicitly set.
			if !cmd.Flags().Changed("catalogue") && catalogue == "" {
				catalogue = cfg.CatalogueFile
			}
			if !cmd.Flags().Changed("name-map") && nameMapFile == "" {
				nameMapFile = cfg.NameMapFile
			}
			if !cmd.Flags().Changed("store-driver") && storeDriver == "" {
				storeDriver = cfg.Store.Driver
			}
			if !cmd.Flags().Changed("store-uri") && storeURI == "" {
				storeURI = os.Getenv("COUNTERS_STORE_URI")
				if storeURI == "" {
					storeURI = cfg.Store.URI
				}
			}
			if !cmd.Flags().Changed("store-database") && storeDatabase == "" {
				storeDatabase = cfg.Store.Database
			}
			if !cmd.Flags().Changed("debug") && cfg.DebugMode {
				debugMode = true
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&catalogue, "catalogue", "", "counter catalogue file (default: config catalogue_file)")
	root.PersistentFlags().StringVar(&nameMapFile, "name-map", "", "field short-name map file (default: config name_map_file)")
	root.PersistentFlags().StringVar(&storeDriver, "store-driver", "", "storage backend: memory or mongo (default: config store.driver)")
	root.PersistentFlags().StringVar(&storeURI, "store-uri", "", "MongoDB connection URI (env: COUNTERS_STORE_URI)")
	root.PersistentFlags().StringVar(&storeDatabase, "store-database", "", "MongoDB database name")
	root.PersistentFlags().StringVar(&indexSchema, "index-schema", "", "JSON file of fact-index rules (default: none, no index entries built)")
	root.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable per-fact match tracing")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(newVersionCmd(info))
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newInitCmd())

	return root
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(info)
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "counters %s (commit: %s, built: %s, go: %s)\n",
					info.Version, info.Commit, info.Date, info.GoVersion)
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output version as JSON")

	return cmd
}

// Execute runs the root command.
func Execute(v, commit, date string) error {
	version = v
	info := BuildInfo{
		Version:   v,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
	}
	return newRootCmd(info).Execute()
}
