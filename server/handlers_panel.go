package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sort"

	"github.com/onnwee/enisa-bot/bot"
	"github.com/onnwee/enisa-bot/telemetry"
)

// Dashboard status lines.
const (
	StatusConnected    = "Running and Connected"
	StatusDisconnected = "Running but Disconnected"
	StatusStopped      = "Stopped"
)

const pageStyle = `body{font-family:sans-serif;background:#121212;color:#e0e0e0;margin:0;padding:40px;text-align:center}` +
	`.box{max-width:800px;margin:auto;background:#1e1e1e;padding:20px;border-radius:8px}h1,h2{color:#bb86fc}` +
	`input{width:100%;padding:10px;margin-bottom:15px;border:1px solid #333;border-radius:4px;background:#2a2a2a;color:#e0e0e0;box-sizing:border-box}` +
	`.btn{padding:12px 24px;border:none;border-radius:5px;font-size:16px;cursor:pointer;margin:5px;text-decoration:none;color:#121212;display:inline-block}` +
	`.start{background:#03dac6}.stop,.flash{background:#cf6679;color:#121212}.flash{padding:10px;border-radius:4px}` +
	`.status{padding:15px;border-radius:5px;margin-top:20px;font-weight:bold;color:#121212}.running{background:#03dac6}.stopped{background:#cf6679}` +
	`.logout{background:#666;color:#fff;position:absolute;top:20px;right:20px}table{margin:20px auto;text-align:left}`

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><title>Login</title><style>` + pageStyle + `</style></head>
<body><div class="box" style="max-width:320px"><h2>Control Panel Login</h2>
{{if .Error}}<div class="flash">{{.Error}}</div>{{end}}
<form method="post" action="/login">
<input type="text" name="username" placeholder="Username" required>
<input type="password" name="password" placeholder="Password" required>
<button type="submit" class="btn start">Login</button>
</form></div></body></html>`))

var dashboardPage = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html><head><title>{{.BotName}} Dashboard</title><meta http-equiv="refresh" content="10"><style>` + pageStyle + `</style></head>
<body><a href="/logout" class="btn logout">Logout</a>
<div class="box"><h1>{{.BotName}} Dashboard</h1>
<div class="status {{if .Running}}running{{else}}stopped{{end}}">Bot Status: {{.Text}}</div>
<table>
<tr><td>State</td><td>{{.Status.State}}</td></tr>
{{if .Status.Username}}<tr><td>Logged in as</td><td>{{.Status.Username}} ({{.Status.UserID}})</td></tr>{{end}}
<tr><td>Rooms</td><td>{{range $i, $r := .Rooms}}{{if $i}}, {{end}}{{$r}}{{else}}none{{end}}</td></tr>
<tr><td>In-flight messages</td><td>{{.Status.Inflight}}</td></tr>
{{if .Status.LastError}}<tr><td>Last error</td><td>{{.Status.LastError}}</td></tr>{{end}}
</table>
<div><a href="/start" class="btn start">Start Bot</a><a href="/stop" class="btn stop">Stop Bot</a></div>
</div></body></html>`))

// StatusText renders a status snapshot as the dashboard headline.
func StatusText(st bot.Status) string {
	switch {
	case st.Running && st.Connected:
		return StatusConnected
	case st.Running:
		return StatusDisconnected
	default:
		return StatusStopped
	}
}

// HandleLogin shows the login form and checks submitted credentials.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.sessionUser(r); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		h.renderLogin(w, http.StatusOK, "")
	case http.MethodPost:
		user, pass := r.PostFormValue("username"), r.PostFormValue("password")
		if !h.checkCredentials(user, pass) {
			telemetry.LoggerWithCorr(r.Context()).Warn("panel login failed", slog.String("ip", clientIP(r)))
			h.renderLogin(w, http.StatusUnauthorized, "Wrong Username or Password!")
			return
		}
		token, err := h.sessions.Seal(user)
		if err != nil {
			telemetry.LoggerWithCorr(r.Context()).Error("seal session", slog.Any("err", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.opts.SessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
		telemetry.LoggerWithCorr(r.Context()).Info("panel login", slog.String("user", user))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) checkCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.opts.PanelUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.opts.PanelPassword)) == 1
	return userOK && passOK
}

func (h *Handlers) renderLogin(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := loginPage.Execute(w, struct{ Error string }{msg}); err != nil {
		slog.Error("render login page", slog.Any("err", err))
	}
}

// HandleLogout clears the session cookie.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// HandleDashboard renders the bot status page.
func (h *Handlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	st := h.opts.Controller.Status()
	rooms := make([]string, 0, len(st.Rooms))
	for _, name := range st.Rooms {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := dashboardPage.Execute(w, struct {
		BotName string
		Text    string
		Running bool
		Rooms   []string
		Status  bot.Status
	}{h.opts.BotName, StatusText(st), st.Running, rooms, st})
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("render dashboard", slog.Any("err", err))
	}
}

// HandleStart requests a bot start. Uptime pingers authenticate with ?key=, people
// with the panel session.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	if key := r.URL.Query().Get("key"); key != "" && h.opts.UptimeSecretKey != "" &&
		subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.UptimeSecretKey)) == 1 {
		started := h.opts.Controller.RequestStart()
		log.Info("panel: start requested by uptime service", slog.Bool("started", started))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Bot start initiated by uptime service."))
		return
	}
	user, ok := h.sessionUser(r)
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	started := h.opts.Controller.RequestStart()
	log.Info("panel: start requested", slog.String("user", user), slog.Bool("started", started))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleStop requests a bot stop and waits for it to settle. A stop timeout is
// logged; the stop still finishes in the background.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	log.Info("panel: stop requested", slog.String("user", panelUser(r.Context())))
	err := h.opts.Controller.RequestStop(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, bot.ErrStopTimeout):
		log.Warn("panel: bot did not stop in time", slog.Any("err", err))
	case err != nil:
		log.Error("panel: stop failed", slog.Any("err", err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
