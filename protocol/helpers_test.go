package protocol

import (
	"errors"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/deck"
	"ktkr.us/pkg/mdmeta/restart"
	"ktkr.us/pkg/mdmeta/topology"
	"ktkr.us/pkg/mdmeta/traj"
)

// In-memory record builders for validator-level tests.

func topologyWithAtoms(n int) *topology.Record {
	return &topology.Record{Path: "sys.top", NumAtoms: &n}
}

func restartWithTime(natoms int, timePs float64) *restart.Record {
	return &restart.Record{
		Path:           "state.rst7",
		Format:         mdmeta.FormatASCII,
		NumAtoms:       &natoms,
		Time:           &timePs,
		HasCoordinates: true,
	}
}

func trajWithTime(natoms int, end, avgDt float64) *traj.Record {
	start := end - 2*avgDt
	return &traj.Record{
		Path:       "run.nc",
		Format:     mdmeta.FormatNetCDF,
		NumAtoms:   &natoms,
		NumFrames:  3,
		HasTime:    true,
		TimeStart:  &start,
		TimeEnd:    &end,
		AvgDt:      &avgDt,
		DurationPs: 2 * avgDt,
	}
}

func deckWith(steps int, dt float64) *deck.Record {
	return &deck.Record{Path: "stage.mdin", LengthSteps: &steps, Dt: dt}
}

func asMissing(err error, target **MissingFilesError) bool {
	return errors.As(err, target)
}
