package logging

import (
	"io"
	"os"
)

// stderr returns the log sink. Indirected for tests.
var stderr = func() io.Writer { return os.Stderr }
