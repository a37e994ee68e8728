// Package app wires the chat gateway together and manages its lifecycle.
//
// New builds, in order: OpenTelemetry providers, the optional user directory
// (MongoDB, fronted by a Redis cache when configured), the JWT credential
// verifier, the identity resolver, the chat gateway and the chi router.
// Run serves HTTP and samples runtime metrics in an errgroup until the
// context is cancelled or a termination signal arrives, then Stop shuts the
// server down, closes every chat connection and flushes telemetry.
//
//	application, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
package app
