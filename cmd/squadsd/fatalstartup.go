package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// fatalStartup logs a structured startup failure and exits 1. When logger
// is nil (failure occurred before the logger could be built), it falls
// back to a single JSON line on stderr matching the same schema.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"squadsd","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
