package hash

import (
	"log"

	"xhash/pkg/config"
)

// debugf logs a split/merge diagnostic when config.Debug is set, the way
// the teacher's cmd/dinodb/main.go reaches for log.Print rather than a
// structured logger, and the original_source's LOG_DEBUG macro calls out
// the same split/merge transitions.
func debugf(format string, args ...any) {
	if !config.Debug {
		return
	}
	log.Printf("hash: "+format, args...)
}
