// Package config holds the tunables shared by the page store and the hash index.
package config

import "github.com/ncw/directio"

// PageSize is the number of bytes in every page the pager hands out.
const PageSize int64 = directio.BlockSize

// MaxPagesInBuffer is the maximum number of pages the pager keeps resident at once.
const MaxPagesInBuffer = 64

// MaxDepth is the largest global/local depth a directory page can represent.
// 1<<MaxDepth must equal DirectoryArraySize.
const MaxDepth = 9

// DirectoryArraySize is the number of slots a directory page has room for,
// chosen so the directory fits in a single page.
const DirectoryArraySize = 1 << MaxDepth

// IndexName is the name of the index. No log line or instance UUID in this
// module includes it.
const IndexName = "xhash"

// Debug gates the split/merge diagnostics the hash package logs with
// log.Printf. Off by default; tests and callers that want the extra
// output flip it for the duration of a run.
var Debug = false
