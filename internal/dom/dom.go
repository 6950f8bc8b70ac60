// Package dom isolates the rest of the system from the host page's markup.
// Everything above this package talks in terms of opaque element refs and
// ordered selector candidate lists; only the chromedp adapter knows how a
// ref maps onto a live node.
package dom

import "context"

// Element is a handle to a host-document node plus the cheap-to-harvest
// properties callers need without another round trip.
type Element struct {
	// Ref is an opaque, stable node handle understood by the collaborator
	// that produced it. A ref can go dead at any DOM mutation; re-validate
	// with IsLive before trusting it.
	Ref string `json:"ref"`

	// Text is the node's visible text at harvest time.
	Text string `json:"text"`

	// EventID is the host's own event identifier when the node exposes
	// one (data-eventid and friends); "" otherwise.
	EventID string `json:"eventId"`

	// Date is the node's calendar date attribute (data-date) in
	// YYYY-MM-DD form when present; "" otherwise.
	Date string `json:"date"`
}

// Box is a bounding box in page coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// MutationKind classifies a single host-document mutation.
type MutationKind int

const (
	NodeAdded MutationKind = iota
	NodeRemoved
	AttrChanged
)

// Mutation is one observed host-document change.
type Mutation struct {
	Kind MutationKind
	Ref  string
}

// Batch is a debounced set of mutations. Within one batch, consumers
// process Added first, then Removed, then Attrs.
type Batch struct {
	Added   []Mutation
	Removed []Mutation
	Attrs   []Mutation
}

// Empty reports whether the batch carries no mutations.
func (b Batch) Empty() bool {
	return len(b.Added) == 0 && len(b.Removed) == 0 && len(b.Attrs) == 0
}

// Collaborator is the narrow DOM capability surface the core consumes.
// Implementations: the chromedp-backed Browser, and fakes in tests.
type Collaborator interface {
	// QueryAll returns every element matching selector, in document order.
	// An empty result is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// SimulateClick dispatches a click on the element behind ref.
	SimulateClick(ctx context.Context, ref string) error

	// IsLive reports whether ref still resolves to a node in the document.
	IsLive(ctx context.Context, ref string) (bool, error)

	// BoundingBox returns the element's page-coordinate box.
	BoundingBox(ctx context.Context, ref string) (Box, error)

	// Observe starts mutation observation under root (a selector; "" means
	// the document) and delivers raw mutations to cb until the returned
	// stop function is called. Stop is idempotent.
	Observe(ctx context.Context, root string, cb func(Mutation)) (stop func(), err error)
}

// SurfaceReader harvests a detail-surface snapshot for the extractor. Kept
// separate from Collaborator so the core interface stays narrow.
type SurfaceReader interface {
	// ReadSurface snapshots the detail surface rooted at ref.
	ReadSurface(ctx context.Context, ref string) (Surface, error)
}

// Surface is a point-in-time text snapshot of a detail surface. The
// extractor works over this snapshot only; it never touches the live DOM.
type Surface struct {
	// Blob is the concatenated visible text of the whole surface.
	Blob string

	// Headings holds the text of heading-like nodes, most specific first.
	Headings []string

	// Lines holds the surface's text nodes in document order, used for
	// location indicator-token scanning.
	Lines []string

	// Descriptions holds candidate description bodies, most specific first.
	Descriptions []string
}

// Resolve tries each selector candidate in order and returns the result set
// of the first candidate yielding at least one match. Returns an empty
// slice when all candidates are exhausted. No side effects.
func Resolve(ctx context.Context, c Collaborator, candidates []string) ([]Element, error) {
	for _, sel := range candidates {
		if sel == "" {
			continue
		}
		matches, err := c.QueryAll(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}

// ResolveOne is Resolve restricted to the first match.
func ResolveOne(ctx context.Context, c Collaborator, candidates []string) (Element, bool, error) {
	matches, err := Resolve(ctx, c, candidates)
	if err != nil {
		return Element{}, false, err
	}
	if len(matches) == 0 {
		return Element{}, false, nil
	}
	return matches[0], true, nil
}
