package pipeline

import (
	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/facts"
	"github.com/ethpandaops/medallion/pkg/reconcile"
	"github.com/ethpandaops/medallion/pkg/warehouse"
)

// UsersEntity is the versioned user dimension
func UsersEntity() reconcile.Entity {
	return reconcile.Entity{
		Name:    dataset.NameUsers,
		Target:  warehouse.Prod(dataset.NameUsers),
		Staging: warehouse.Staging(dataset.NameUsers),
		Key:     []string{"user_id"},
		Columns: dataset.UserSpec().Columns,
		Policy:  reconcile.Versioned,
	}
}

// MoviesEntity is the overwrite movie dimension
func MoviesEntity() reconcile.Entity {
	return reconcile.Entity{
		Name:    dataset.NameMovies,
		Target:  warehouse.Prod(dataset.NameMovies),
		Staging: warehouse.Staging(dataset.NameMovies),
		Key:     []string{"item_id"},
		Columns: dataset.MovieSpec().Columns,
		Policy:  reconcile.Overwrite,
	}
}

// RatingsFact is the monthly partitioned rating fact table
func RatingsFact() facts.Fact {
	return facts.Fact{
		Name:       dataset.NameRatings,
		Target:     warehouse.Prod(dataset.NameRatings),
		Staging:    warehouse.Staging(dataset.NameRatings),
		Columns:    dataset.RatingSpec().Columns,
		Key:        []string{"user_id", "item_id", "timestamp"},
		Mutable:    []string{"rating"},
		TimeColumn: "timestamp",
	}
}
