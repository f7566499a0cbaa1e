// Package shutdown coordinates process termination for the RollMesh
// binaries.
//
// A Handler captures SIGINT and SIGTERM, cancels its Context so loops can
// wind down, then runs named hooks in reverse registration order under a
// timeout:
//
//	h := shutdown.NewHandler(10*time.Second, shutdown.WithLogger(log))
//	h.OnShutdown("journal", func(context.Context) error { return j.Close() })
//	go runMatch(h.Context())
//	return h.Wait()
package shutdown
