// Package logging provides structured logging helpers built on log/slog.
//
// It centralizes attribute naming and the sanitization rules for the broker:
// account identifiers are hashed with UserHash outside of audit logs, and
// tokens are never logged, only their length via SanitizeToken.
//
//	logger := logging.WithComponent(slog.Default(), "credentials")
//	logger.Info("credential refreshed",
//	    logging.UserHash(account),
//	    logging.Status("success"))
package logging
