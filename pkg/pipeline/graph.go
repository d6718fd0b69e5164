package pipeline

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/heimdalr/dag"
)

var (
	// ErrUnknownDataset is returned for a requested dataset the pipeline does not know
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrUnresolvable is returned when dataset dependencies cannot be ordered
	ErrUnresolvable = errors.New("dataset dependencies do not resolve")
)

// Datasets lists every dataset in its default run order
//
//nolint:gochecknoglobals // fixed dataset list
var Datasets = []string{dataset.NameUsers, dataset.NameMovies, dataset.NameRatings}

// dependencies lists the datasets each dataset should run after. Ratings
// reference users and movies, so the dimensions go first.
//
//nolint:gochecknoglobals // fixed dependency table
var dependencies = map[string][]string{
	dataset.NameRatings: {dataset.NameUsers, dataset.NameMovies},
}

// Order returns the requested datasets, all of them when none are given, in
// dependency order. Independent datasets keep their order in Datasets.
func Order(requested []string) ([]string, error) {
	if len(requested) == 0 {
		requested = Datasets
	}

	d := dag.NewDAG()

	for _, name := range requested {
		if !isDataset(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
		}

		if _, err := d.GetVertex(name); err == nil {
			continue
		}

		if err := d.AddVertexByID(name, name); err != nil {
			return nil, fmt.Errorf("failed to add dataset %s: %w", name, err)
		}
	}

	for _, name := range requested {
		for _, dep := range dependencies[name] {
			if _, err := d.GetVertex(dep); err != nil {
				continue
			}

			if err := d.AddEdge(dep, name); err != nil {
				var dup dag.EdgeDuplicateError
				if errors.As(err, &dup) {
					continue
				}

				return nil, fmt.Errorf("failed to order %s after %s: %w", name, dep, err)
			}
		}
	}

	var (
		order []string
		done  = make(map[string]bool)
	)

	for len(order) < d.GetOrder() {
		progressed := false

		for _, name := range Datasets {
			if done[name] {
				continue
			}

			if _, err := d.GetVertex(name); err != nil {
				continue
			}

			parents, err := d.GetParents(name)
			if err != nil {
				return nil, err
			}

			ready := true

			for parent := range parents {
				if !done[parent] {
					ready = false

					break
				}
			}

			if ready {
				done[name] = true
				order = append(order, name)
				progressed = true
			}
		}

		if !progressed {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvable, pending(requested, done))
		}
	}

	return order, nil
}

func pending(requested []string, done map[string]bool) []string {
	var out []string

	for _, name := range requested {
		if !done[name] {
			out = append(out, name)
		}
	}

	return out
}
