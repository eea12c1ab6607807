package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"ktkr.us/pkg/fmtutil"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/deck"
	"ktkr.us/pkg/mdmeta/mdlog"
	"ktkr.us/pkg/mdmeta/netcdf"
	"ktkr.us/pkg/mdmeta/restart"
	"ktkr.us/pkg/mdmeta/topology"
	"ktkr.us/pkg/mdmeta/traj"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Parse single simulation files and print their metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	slog.Debug("inspect", "files", len(args), "netcdf_backend", netcdf.BackendName())

	var failed bool
	for i, path := range args {
		if i > 0 {
			fmt.Println("----------------------------------------")
		}
		if err := inspectOne(path); err != nil {
			slog.Error("inspect failed", "file", path, "err", err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("some files could not be inspected")
	}
	return nil
}

func inspectOne(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	start := time.Now()

	kind := mdmeta.KindForPath(path)
	var summary string
	switch kind {
	case mdmeta.KindTopology:
		r, err := topology.Parse(path)
		if err != nil {
			return err
		}
		summary = r.Summary()
	case mdmeta.KindInputDeck:
		r, err := deck.Parse(path)
		if err != nil {
			return err
		}
		summary = r.Summary()
	case mdmeta.KindLog:
		r, err := mdlog.Parse(path)
		if err != nil {
			return err
		}
		summary = r.Summary()
	case mdmeta.KindTrajectory:
		r, err := traj.Parse(path)
		if err != nil {
			return err
		}
		summary = r.Summary()
	case mdmeta.KindRestart:
		r, err := restart.Parse(path)
		if err != nil {
			return err
		}
		summary = r.Summary()
	default:
		return fmt.Errorf("unrecognized file kind for %s", path)
	}

	fmt.Print(summary)
	slog.Debug("inspected", "file", path, "kind", kind.String(),
		"bytes", fi.Size(), "took", fmtutil.HMS(time.Since(start)))
	return nil
}
