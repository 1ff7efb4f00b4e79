// Package resolution decides, exactly once, what each ingested content item is.
//
// For every UNRESOLVED item, oldest first, the engine scores it against the
// corpus of canonical items, classifies the best score against two
// thresholds and either:
//
//   - marks it NEW and indexes it (score at or above the NEW threshold, or no candidate),
//   - folds it into the candidate as DUPLICATE_AUTO and merges sources
//     (score at or below the duplicate threshold), or
//   - asks a SemanticResolver, mapping its NEW / DUPLICATE / UPDATE answer onto
//     NEW, DUPLICATE_SEMANTIC or MERGED_UPDATE.
//
// Resolver trouble never drops or stalls an item: it resolves NEW with the
// failure recorded as reasoning. An invalid UPDATE payload gets one retry and
// then degrades to DUPLICATE_SEMANTIC.
//
// Each resolution, its source merge or update append, and its index entry
// commit in one transaction under the index write lock (see Writer), so a
// re-run only ever sees UNRESOLVED items that were not touched.
package resolution
