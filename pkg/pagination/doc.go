// Package pagination fetches the whole working set of a paginated collection
// for screens whose view is computed client-side.
//
// The first page reports the page count; the remaining pages are fetched in
// parallel with a bounded errgroup and stitched together in page order.
//
// Example usage:
//
//	pages := pagination.ClientPages[Toy](c, "/api/toys", client.ListOptions{}, 100)
//	toys, err := pagination.FetchAll(ctx, pages, pagination.DefaultConfig())
package pagination
