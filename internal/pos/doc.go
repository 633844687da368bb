// Package pos is the client for the ITRetail point-of-sale REST API.
//
// It covers the two calls the scale sync needs: fetching the full product
// catalog and pushing PLU corrections back as a CSV upload. It satisfies
// plu.Catalog.
//
// # Authentication
//
// The API uses a password-grant bearer token. The token is cached as JSON
// in the configured token file and reused until it expires, so repeated
// runs do not log in every time. A 401 response discards the cached token
// and the request is retried once with a fresh one.
//
// # Retries
//
// Network errors and 5xx responses are retried with exponential backoff
// (cenkalti/backoff). Other non-2xx responses fail immediately with a
// *StatusError.
//
// # Usage
//
//	client, err := pos.New(cfg.POS)
//	if err != nil {
//	    return err
//	}
//	items, err := client.Products(ctx)
package pos
