package protocol

import (
	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/deck"
	"ktkr.us/pkg/mdmeta/mdlog"
	"ktkr.us/pkg/mdmeta/restart"
	"ktkr.us/pkg/mdmeta/topology"
	"ktkr.us/pkg/mdmeta/traj"
)

type topologyRecord = topology.Record

func parseTopology(path string) (*topology.Record, error) { return topology.Parse(path) }
func parseRestart(path string) (*restart.Record, error)   { return restart.Parse(path) }
func parseDeck(path string) (*deck.Record, error)         { return deck.Parse(path) }
func parseLog(path string) (*mdlog.Record, error)         { return mdlog.Parse(path) }
func parseTraj(path string) (*traj.Record, error)         { return traj.Parse(path) }

// attachFiles parses each referenced file into its slot on the stage.
func (s *Stage) attachFiles(files map[mdmeta.Kind]string, baseDir string) error {
	for _, kind := range kindOrder {
		path, ok := files[kind]
		if !ok {
			continue
		}
		resolved := resolve(baseDir, path)

		switch kind {
		case mdmeta.KindTopology:
			rec, err := parseTopology(resolved)
			if err != nil {
				return err
			}
			s.Topology = rec
		case mdmeta.KindRestart:
			rec, err := parseRestart(resolved)
			if err != nil {
				return err
			}
			s.Restart = rec
			s.RestartPath = resolved
		case mdmeta.KindInputDeck:
			rec, err := parseDeck(resolved)
			if err != nil {
				return err
			}
			s.Deck = rec
		case mdmeta.KindLog:
			rec, err := parseLog(resolved)
			if err != nil {
				return err
			}
			s.Log = rec
		case mdmeta.KindTrajectory:
			rec, err := parseTraj(resolved)
			if err != nil {
				return err
			}
			s.Trajectory = rec
		}
	}
	return nil
}
