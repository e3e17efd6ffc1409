// Package scraper implements the download backend used by the batch runner.
//
// For each category the Scraper pages through an image search engine,
// skips URLs it has already queued for the category and hands candidates to
// a bounded worker pool. Each worker downloads one image, validates its size
// and sniffed MIME type, and stores it as the next sequentially numbered
// file in the category directory.
//
// Usage:
//
//	s := scraper.New(scraper.OptionsFromConfig(cfg), log,
//	    scraper.WithMetrics(m),
//	)
//	n, err := s.Fetch(ctx, batch.Request{
//	    Query:       "red fox photo",
//	    Destination: "scraped_images/red_fox",
//	    Limit:       50,
//	    Engine:      "bing",
//	})
//
// Candidates are submitted in rounds no larger than the number of images
// still missing, so a category never downloads much more than it keeps.
// A search failure on the first page is returned as a backend error; later
// search failures and per-image failures only reduce the count.
package scraper
