package application

import "log/slog"

const ModuleName = "onchain-voting/voting-program"

// ResolveLogger guarantees a non-nil logger for application/worker code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// LogAttrs prefixes attrs with the event/module/layer keys every record in
// this module carries.
func LogAttrs(layer string, event string, attrs ...any) []any {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"module", ModuleName,
		"layer", layer,
	)
	return append(fields, attrs...)
}
