package audit

import "log/slog"

// LevelCritical sits above slog.LevelError for tamper alerts.
const LevelCritical = slog.Level(12)
