package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ktkr.us/pkg/mdmeta/protocol"
)

var (
	flagManifest   string
	flagRecursive  bool
	flagPattern    string
	flagRoles      []string
	flagStems      []string
	flagAutoRst    bool
	flagGlobalTop  string
	flagHMRTop     string
	flagSkipCross  bool
	flagOutputJSON bool
	flagMethods    bool
)

var planCmd = &cobra.Command{
	Use:   "plan [directory]",
	Short: "Assemble and validate a simulation protocol",
	Long: `Assemble a simulation protocol either from a YAML/JSON manifest
(--manifest) or by scanning a directory for simulation files, then run
per-stage validation and cross-stage continuity checks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&flagManifest, "manifest", "m", "", "YAML or JSON manifest of stages")
	planCmd.Flags().BoolVar(&flagRecursive, "recursive", false, "scan subdirectories too")
	planCmd.Flags().StringVar(&flagPattern, "pattern", "", "only consider files matching this regex")
	planCmd.Flags().StringSliceVar(&flagRoles, "include-roles", nil, "keep only stages with these roles")
	planCmd.Flags().StringSliceVar(&flagStems, "include-stems", nil, "keep only stages with these names")
	planCmd.Flags().BoolVar(&flagAutoRst, "auto-restarts", false, "link restart files to stages by score")
	planCmd.Flags().StringVar(&flagGlobalTop, "global-topology", "", "topology shared by stages lacking one")
	planCmd.Flags().StringVar(&flagHMRTop, "hmr-topology", "", "topology for stages with dt >= 0.004 ps")
	planCmd.Flags().BoolVar(&flagSkipCross, "skip-cross-stage-validation", false, "skip continuity checks")
	planCmd.Flags().BoolVar(&flagOutputJSON, "json", false, "emit the full record tree as JSON")
	planCmd.Flags().BoolVar(&flagMethods, "methods", false, "emit the methods-report subset as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	opts := protocol.BuildOptions{
		GlobalTopology:           flagGlobalTop,
		HMRTopology:              flagHMRTop,
		SkipCrossStageValidation: flagSkipCross,
	}

	var p *protocol.Protocol
	var err error
	if flagManifest != "" {
		slog.Debug("building from manifest", "manifest", flagManifest)
		p, err = protocol.BuildFromManifestFile(flagManifest, opts)
	} else {
		slog.Debug("discovering", "dir", dir, "recursive", flagRecursive)
		p, err = protocol.Discover(dir, protocol.DiscoverOptions{
			BuildOptions:       opts,
			Recursive:          flagRecursive,
			PatternFilter:      flagPattern,
			IncludeRoles:       flagRoles,
			IncludeStems:       flagStems,
			AutoDetectRestarts: flagAutoRst,
		})
	}
	if err != nil {
		return err
	}

	switch {
	case flagOutputJSON:
		return emitJSON(p.FullView())
	case flagMethods:
		return emitJSON(p.MethodsView())
	}

	fmt.Println("Protocol summary")
	fmt.Println("================")
	fmt.Print(p.Summary())
	return nil
}

func emitJSON(view map[string]any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
