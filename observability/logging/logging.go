// Package logging builds the structured JSON slog.Logger a node process
// logs through and the redaction helpers (redact.go) that keep hash-lock
// pre-images, private-key material, and raw signed tokens out of its
// output. node.New and funder.New fall back to SetupNode when the caller
// passes a nil logger.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// DefaultComponent names the process this core normally runs inside when
// no caller-supplied logger is wired in.
const DefaultComponent = "offset-node"

// SetupNode configures the standard library logger to emit structured JSON
// and returns the underlying slog.Logger for the node's friend-message and
// control-command processing. All log lines include the component name and
// environment when provided.
func SetupNode(env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: false,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("component", DefaultComponent)}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}

	withArgs := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		withArgs = append(withArgs, attr)
	}

	base := slog.New(handler).With(withArgs...)
	slog.SetDefault(base)

	// Bridge the standard library logger so collaborators still using log.Print keep working.
	stdBridge := slog.NewLogLogger(handler.WithAttrs(attrs), slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
