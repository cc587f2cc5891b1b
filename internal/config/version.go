package config

// Version is the application version, overridden at build time via
// -ldflags "-X github.com/tradesentry/tradesentry/internal/config.Version=..."
var Version = "0.3.0"
