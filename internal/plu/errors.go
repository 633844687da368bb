package plu

import "errors"

// Domain errors for PLU allocation and catalog preparation.
var (
	// ErrNoFreePLU is returned when a category's PLU range has no unclaimed
	// value left for an item.
	ErrNoFreePLU = errors.New("plu: no free PLU in range")

	// ErrFetchCatalog is returned when the POS catalog cannot be read.
	ErrFetchCatalog = errors.New("plu: fetching catalog failed")

	// ErrPushCorrections is returned when the correction batch is rejected.
	// The whole sync aborts; no partial application is assumed.
	ErrPushCorrections = errors.New("plu: pushing corrections failed")
)
