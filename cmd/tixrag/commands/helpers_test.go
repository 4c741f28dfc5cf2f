package commands

import (
	"io"
	"log/slog"
	"strings"

	"github.com/54b3r/tixrag/internal/server"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func names(pingers []server.Pinger) string {
	out := make([]string, 0, len(pingers))
	for _, p := range pingers {
		out = append(out, p.Name())
	}
	return strings.Join(out, ",")
}
