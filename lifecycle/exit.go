package lifecycle

import "os"

// osExit is a package-level indirection over os.Exit so tests can override it
// without actually terminating the test binary when the required-timeout
// fires.
var osExit = os.Exit
