// Package agent wires the instrumentation core into one context object.
//
// An Agent owns the run loop and every subsystem confined to it: the event
// bus, the plugin registry, the beacon variables and transmitter, the
// session manager, the DOM model, the mutation handler, the SPA coordinator
// and the network instrumentation. Hosts drive it through the exported
// methods, which are safe to call from any goroutine and post their work
// into the loop. Plugins reach the core through Host, which must only be
// used from the loop.
//
// Typical use:
//
//	cfg := config.New(config.WithFile("rum.toml"), config.WithEnv(""))
//	_ = cfg.Load()
//	a := agent.New(agent.WithConfig(cfg), agent.WithLogger(logger))
//	_ = a.Register(rt.New(a.Host()))
//	go a.Run(ctx)
//	a.Init()
//	a.SetPage("https://example.com/", "")
//	a.Loaded(time.Now())
package agent
