// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package cpg0016 queries and downloads images of the JUMP Cell Painting
dataset cpg0016 from the public cellpainting-gallery bucket.

# Quick Start

	store := cpg0016.NewStore(nil, cacheDir, gdrive.NewFetcher(nil))

	rs, err := store.Query(ctx, cpg0016.Criteria{Plate: cpg0016.Value("110000296354")})
	if err != nil {
		log.Fatal(err)
	}

	cfg := cpg0016.DefaultSettings()
	report, err := cpg0016.Download(ctx, rs, "./images", cfg, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d downloaded, %d failed\n", len(report.Succeeded), len(report.Failed))

# Lookup Table

The lookup table is a gzip-compressed CSV file with the columns source,
batch, plate, site, well, illum, filename, path and compound. Store caches it
under a directory of the caller's choice the first time a query runs and never
refreshes it on its own; call Store.Refresh to replace it.

Query validates the criteria before touching the filesystem or network, then
streams and filters the table row by row. Malformed rows abort the query
unless Store.SkipMalformed is set.

# Downloads

Download runs at most Settings.Concurrency records at once. Every record gets
its own attempts (3 by default, 2s apart) and every attempt its own timeout
(30s by default). Bodies are written to a temporary file and renamed into
place, so a record that fails leaves no file behind. Failures are isolated per
record and collected in the returned Report.

Records are fetched over HTTPS by default (HTTPFetcher). S3Fetcher uses the S3
API with anonymous credentials instead.
*/
package cpg0016
