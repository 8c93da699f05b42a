// Package ui exposes a session memory Service over HTTP.
//
// Handler serves two things:
//   - a JSON API under /api/ (see package api)
//   - a transcript page at /sessions/{id} rendering the working context as
//     sanitized HTML
//
// # Quick Start
//
//	pool, _ := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	mem, _ := sessionpg.NewWithDriver(pgxv5.New(pool), sessionpg.DefaultConfig(),
//	    sessionpg.WithAnthropicClient(&client),
//	)
//	mem.Start(ctx)
//
//	mux := http.NewServeMux()
//	mux.Handle("/memory/", http.StripPrefix("/memory", ui.Handler(mem.Service, &ui.Config{
//	    BasePath: "/memory",
//	})))
//
//	http.ListenAndServe(":8080", mux)
//
// # Adding Middleware
//
// Wrap the handler externally using standard Go patterns:
//
//	handler := authMiddleware(loggingMiddleware(ui.Handler(svc, cfg)))
//	http.Handle("/memory/", http.StripPrefix("/memory", handler))
package ui
