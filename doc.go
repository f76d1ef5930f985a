// Package langruby brings Ruby code intelligence to a code-browsing host.
// Activate connects an analysis engine, wraps it in a session that fetches
// documents from the host on demand, and registers hover, definition and
// references providers on a host.Registry. Server exposes that registry to
// a frontend over JSON-RPC.
//
// A minimal bridge needs only a few lines:
//
//	reg := host.NewRegistry()
//	ext, err := langruby.Activate(ctx, reg, settings)
//	if err != nil {
//		return err
//	}
//	defer ext.Close()
//	s := langruby.NewServer("langruby", version, reg)
//	return langruby.Serve(ctx, s, langruby.WithStdio())
package langruby
