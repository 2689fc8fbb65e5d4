package bor

import (
	"os"
)

// DebugEnabled controls whether or not debug-level logging is enabled. It is
// set automatically based on the BOR_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("BOR_DEBUG") == "1"
}
