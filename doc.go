// Package colgraph provides a columnar data engine for an academic entity
// graph of works, authors, institutions, sources and concepts.
//
// Every entity type is a fixed set of rows addressed by dense integer ids.
// Attributes are stored one column per file with the narrowest integer
// width that fits their values, and relations between entity types are
// variable-length columns of target row ids. colgraph derives new columns
// from existing ones (counts, inversions, compositions, best sources) and
// folds relation tuples into breakdown trees for reporting.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := colgraph.Open("./columns", colgraph.WithThreads(8))
//	defer db.Close()
//
//	works, _ := db.Declare("openalex", "works", 250_000_000)
//	authors, _ := db.Declare("openalex", "authors", 90_000_000)
//
//	// works -> [authors], produced by ingestion
//	byWork := link.New(attr.VarSpec(works, "authorships", attr.W32), authors)
//
//	// authors -> [works]
//	byAuthor, _ := db.Invert(ctx, byWork, attr.VarSpec(authors, "works", attr.Auto))
//
//	// per author work counts under derived/authors-work_count
//	_, _ = colgraph.CountLinked(ctx, db, link.Carrier[link.WorkCount]{
//	    Entity: authors,
//	    Link:   byAuthor,
//	})
//
// # Packages
//
//   - attr: widths, column layouts, column store with readers and writers
//   - idmap: external id to row id maps with append-only persistence
//   - parallel: bounded fan-out of work items over a worker pool
//   - build: fixed, variable and downcasting column builders
//   - link: count, invert, compose and best-source derivations
//   - merge: deduplicating heap, two-way merge, breakdown trees and labels
//   - archive: compressed publish and fetch of column namespaces
//   - blobstore: local, in-memory, S3 and MinIO column storage
//
// # Durability Model
//
// Columns are written to a staging file and renamed into place once the
// sidecar is complete. A failed build leaves no column behind. Derivations
// are not transactional across columns; rerun the failed step.
package colgraph
