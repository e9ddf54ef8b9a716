// Package attr stores the attributes of entity types as columns.
//
// A fixed column holds one little-endian value per row in a contiguous
// array, so row r lives at byte r*width. A variable column holds zero or
// more values per row in two files: a payload of concatenated elements and
// an offset table of Count+1 cumulative element offsets (uint64). Row r
// spans elements [off[r], off[r+1]).
//
// Every column has a JSON sidecar recording its kind, width and sizes. The
// row count of a column is taken from its entity declaration; the width is
// taken from the sidecar when the declaration says Auto.
//
// Layout under the store root:
//
//	<namespace>/<name>.col        data or payload
//	<namespace>/<name>.off        offset table (variable columns only)
//	<namespace>/<name>.meta.json  sidecar
package attr
