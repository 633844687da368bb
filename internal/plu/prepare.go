package plu

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// DefaultUPCPattern selects random-weight UPCs.
const DefaultUPCPattern = "^002"

// DefaultMinQuantity keeps every item regardless of stock level.
const DefaultMinQuantity = -10000000.0

// Catalog is the POS side of catalog preparation.
type Catalog interface {
	// Products returns the full product list.
	Products(ctx context.Context) ([]catalog.Item, error)

	// SetPLUs applies a batch of PLU corrections atomically.
	SetPLUs(ctx context.Context, assignments []catalog.Assignment) error
}

// Logger is the logging surface used during preparation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options controls which catalog items reach the scales.
type Options struct {
	// UPCPattern selects items by UPC. Nil matches everything.
	UPCPattern *regexp.Regexp

	// IncludeInternal keeps items with PLUs below 1000 in the final list.
	IncludeInternal bool

	// MinQuantity drops items whose quantity on hand is below it.
	MinQuantity float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		UPCPattern:  regexp.MustCompile(DefaultUPCPattern),
		MinQuantity: DefaultMinQuantity,
	}
}

// Result is the outcome of Prepare.
type Result struct {
	// Items is the final, ordered catalog to download. It is shared by all
	// devices and must not be modified.
	Items []catalog.Item

	// Corrections were pushed to the POS system during this pass.
	Corrections []catalog.Assignment

	// PreviouslyUsed holds the PLUs found before allocation.
	PreviouslyUsed map[uint16]struct{}

	// Dropped counts items removed by the final restriction.
	Dropped int
}

// Filter removes deleted items, items whose UPC does not match the pattern
// and items below the quantity threshold, then stable-sorts the rest by
// section. Missing sections sort as 0. The input slice is not modified.
func Filter(items []catalog.Item, opts Options) []catalog.Item {
	out := make([]catalog.Item, 0, len(items))
	for i := range items {
		it := &items[i]
		if it.Deleted {
			continue
		}
		if opts.UPCPattern != nil && !opts.UPCPattern.MatchString(it.UPC) {
			continue
		}
		if it.Quantity() < opts.MinQuantity {
			continue
		}
		out = append(out, *it)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Section() < out[j].Section()
	})
	return out
}

// Prepare fetches the catalog, repairs PLUs and returns the list of items
// that can be downloaded to the scales.
//
// When corrections are needed they are pushed as a single batch and the
// catalog is fetched again; the POS system's post-push view is what gets
// downloaded, not the locally computed values.
//
// Parameters:
//   - ctx: Context for POS calls
//   - cat: POS catalog access
//   - opts: Filtering options
//   - logger: Optional logger (nil disables logging)
//
// Returns:
//   - *Result: Final item list and the corrections applied
//   - error: Fetch, allocation or push failure; all abort the sync
func Prepare(ctx context.Context, cat Catalog, opts Options, logger Logger) (*Result, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	items, err := fetch(ctx, cat, opts)
	if err != nil {
		return nil, err
	}

	corrections, previouslyUsed, err := Allocate(items)
	if err != nil {
		logger.Error("PLU allocation failed", "error", err)
		return nil, err
	}

	if len(corrections) > 0 {
		byUPC := make(map[string]*catalog.Item, len(items))
		for i := range items {
			byUPC[items[i].UPC] = &items[i]
		}
		for _, c := range corrections {
			attrs := []any{"upc", c.UPC, "plu", c.PLU}
			if it := byUPC[c.UPC]; it != nil {
				attrs = append(attrs, "description", it.Description)
				if it.PLU != nil {
					attrs = append(attrs, "previous", *it.PLU)
				}
			}
			logger.Info("PLU assigned", attrs...)
		}

		if err := cat.SetPLUs(ctx, corrections); err != nil {
			logger.Error("pushing PLU corrections failed", "count", len(corrections), "error", err)
			return nil, fmt.Errorf("%w: %w", ErrPushCorrections, err)
		}
		logger.Info("PLU corrections pushed", "count", len(corrections))

		items, err = fetch(ctx, cat, opts)
		if err != nil {
			return nil, err
		}
	}

	final, dropped := Restrict(items, opts, logger)

	return &Result{
		Items:          final,
		Corrections:    corrections,
		PreviouslyUsed: previouslyUsed,
		Dropped:        dropped,
	}, nil
}

// Restrict drops items that cannot be sent to a scale: no numeric PLU, an
// internal PLU when internal items are excluded, or a UPC without a
// well-formed item code. Drops are logged, not treated as errors.
func Restrict(items []catalog.Item, opts Options, logger Logger) ([]catalog.Item, int) {
	if logger == nil {
		logger = noopLogger{}
	}

	out := make([]catalog.Item, 0, len(items))
	for i := range items {
		it := &items[i]

		plu, ok := it.ParsedPLU()
		if !ok {
			logger.Warn("dropping item without numeric PLU", "upc", it.UPC, "description", it.Description)
			continue
		}
		if !opts.IncludeInternal && plu < catalog.StandardMin {
			logger.Debug("dropping internal item", "upc", it.UPC, "plu", plu)
			continue
		}
		if _, ok := it.ItemCode(); !ok {
			logger.Warn("dropping item without item code", "upc", it.UPC, "description", it.Description)
			continue
		}
		out = append(out, *it)
	}

	return out, len(items) - len(out)
}

func fetch(ctx context.Context, cat Catalog, opts Options) ([]catalog.Item, error) {
	items, err := cat.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchCatalog, err)
	}
	return Filter(items, opts), nil
}
