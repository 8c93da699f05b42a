package ui

import (
	"html/template"
	"net/http"

	"github.com/youssefsiam38/sessionpg/render"
	"github.com/youssefsiam38/sessionpg/ui/api"
)

// Handler returns an http.Handler serving the JSON API under /api/ and a
// read-only transcript page at GET /sessions/{id}.
//
// Usage:
//
//	http.Handle("/memory/", http.StripPrefix("/memory", ui.Handler(svc, &ui.Config{BasePath: "/memory"})))
func Handler(mem api.Memory, cfg *Config) http.Handler {
	if mem == nil {
		panic(ErrMemoryRequired.Error())
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.applyDefaults()
	}

	// Validate configuration (panic on invalid config as this is a programmer error)
	if err := cfg.validate(); err != nil {
		panic("ui: invalid configuration: " + err.Error())
	}

	apiHandler := api.NewRouter(mem, &api.Config{
		ReadOnly:     cfg.ReadOnly,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       cfg.Logger,
	})

	p := &pages{mem: mem, config: cfg}

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", apiHandler))
	mux.HandleFunc("GET /sessions/{id}", p.handleTranscript)
	return mux
}

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Session {{.SessionID}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
.turn { border-left: 3px solid #ccc; padding: 0 1rem; margin: 1rem 0; }
.turn-user { border-color: #2563eb; }
.turn-assistant { border-color: #16a34a; }
.turn-checkpoint { border-color: #d97706; background: #fffbeb; }
.turn-system { border-color: #6b7280; color: #374151; }
nav { font-size: 0.875rem; color: #6b7280; }
</style>
</head>
<body>
<h1>Session {{.SessionID}}</h1>
<nav>{{.Turns}} turns in context &middot; <a href="{{.APIBase}}/sessions/{{.SessionID}}/messages">history</a> &middot; <a href="{{.APIBase}}/sessions/{{.SessionID}}/compactions">compactions</a></nav>
{{if .Empty}}<p>No messages yet.</p>{{end}}
{{.Body}}
</body>
</html>
`))

type transcriptPage struct {
	SessionID string
	APIBase   string
	Turns     int
	Empty     bool
	Body      template.HTML
}

type pages struct {
	mem    api.Memory
	config *Config
}

func (p *pages) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	turns, err := p.mem.Transcript(r.Context(), sessionID)
	if err != nil {
		p.fail(w, r, err)
		return
	}

	body, err := render.HTML(turns, p.config.RoleLabels)
	if err != nil {
		p.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// render.HTML output is already sanitized.
	err = transcriptTemplate.Execute(w, transcriptPage{
		SessionID: sessionID,
		APIBase:   p.config.BasePath + "/api",
		Turns:     len(turns),
		Empty:     len(turns) == 0,
		Body:      template.HTML(body),
	})
	if err != nil && p.config.Logger != nil {
		p.config.Logger.Error("failed to render transcript", "session_id", sessionID, "error", err)
	}
}

func (p *pages) fail(w http.ResponseWriter, r *http.Request, err error) {
	if p.config.Logger != nil {
		p.config.Logger.Error("failed to load transcript", "path", r.URL.Path, "error", err)
	}
	http.Error(w, "failed to load session", http.StatusInternalServerError)
}
