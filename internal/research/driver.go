package research

import "context"

// BrowserDriver is the navigation/extraction collaborator. The engine never
// inspects markup itself; drivers own the browser session and hand back
// page content and schema-shaped extraction payloads. Implementations must
// honor context cancellation since the engine signals stop between steps.
type BrowserDriver interface {
	// Navigate loads a target URL and returns the rendered page. A nil
	// error with a non-2xx StatusCode is a soft failure the engine records
	// and moves past.
	Navigate(ctx context.Context, target string) (*PageContent, error)

	// Extract pulls the schema's fields off an already-loaded page. An
	// empty slice means the page had nothing matching the schema; that is
	// not an error.
	Extract(ctx context.Context, page *PageContent, schema ExtractionSchema) ([]ExtractionResult, error)
}

// SearchProvider resolves a free-text query into candidate URLs. Results
// are memoized by the cache manager keyed on the query's content hash.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
