// Package logging is feedbackd's zap wrapper.
//
// Every method takes a context; request ids, the authenticated principal,
// the endpoint class and any active trace id found there are added to the
// entry. Below Debug sits TraceLevel, which the export streamer uses once
// per record.
//
// Console output is JSON by default and passes through a redacting
// encoder: configured field names such as authorization or dsn are
// masked, and values that look like bearer tokens, api_key=... pairs or
// postgres URLs with passwords are replaced. Errors are never sampled;
// lower levels are sampled per message within a one second tick.
//
//	cfg, err := logging.FromSettings("debug", "console")
//	if err != nil {
//		return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithPrincipal(ctx, "demo")
//	logger.Info(ctx, "correction stored", zap.Int64("id", id))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
