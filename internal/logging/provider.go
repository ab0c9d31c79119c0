package logging

import (
	"log/slog"
	"strings"
)

// ProviderMessage logs one line emitted by the forecast provider. Lines are
// shaped "<stamp> - LEVEL - text"; lines that do not parse are logged
// verbatim at debug.
func ProviderMessage(log *slog.Logger, msg string) {
	log = orDefault(log).With("component", "ecmwfapi")

	parts := strings.Split(msg, " - ")
	if len(parts) < 3 {
		log.Debug(msg)
		return
	}

	text := strings.TrimSpace(parts[len(parts)-1])
	switch strings.ToUpper(strings.TrimSpace(parts[1])) {
	case "INFO":
		log.Info(text)
	case "WARNING", "WARN":
		log.Warn(text)
	case "ERROR", "ERR":
		log.Error(text)
	default:
		log.Debug(msg)
	}
}
