/*
Package debugapi adds the debug_memStats and debug_traceTransaction remote methods to a
JSON-RPC client handle.

A Client carries a Provider (the transport) and an optional Debug namespace. Augment makes
sure the namespace exists and holds both methods, leaving anything already present alone:

	c := &debugapi.Client{Provider: debugapi.NewHTTPProvider("http://127.0.0.1:8545")}
	debugapi.Augment(c)

	memStats, _ := c.Debug.MemStats()
	memStats(func(err error, result interface{}) {
		// result is the unwrapped "result" member of the response
	})

Values placed in the namespace before augmentation take precedence. This is how tests
install mocks:

	c.Debug = debugapi.Namespace{"traceTransaction": myFakeTrace}
	debugapi.Augment(c) // memStats is added, traceTransaction is kept

The callback style methods never block. Client.MemStats, Client.TraceTransaction and
Client.HasDebug are blocking variants that wait for the callback or for the context to end.
*/
package debugapi
