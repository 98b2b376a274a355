// Package browser runs scenarios through real Playwright browsers against a
// stub CRM served by httptest. Tests skip when Playwright or its browsers are
// not installed.
package browser

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/crmscenarios/internal/driver/pwdriver"
	"github.com/kuitang/crmscenarios/internal/obs"
	"github.com/kuitang/crmscenarios/internal/runner"
)

const (
	// Always use these timeout constants for browser tests.
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second

	stubUser     = "admin2"
	stubPassword = "Admin2025!"
	sessionName  = "crm_session"
)

var (
	playwrightOnce sync.Once
	playwrightErr  error
)

// requirePlaywright skips the test unless a Playwright driver and Chromium
// can be started.
func requirePlaywright(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests are skipped in -short mode")
	}

	playwrightOnce.Do(func() {
		pw, err := playwright.Run()
		if err != nil {
			playwrightErr = fmt.Errorf("playwright not available: %w", err)
			return
		}
		defer pw.Stop()

		b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(true)})
		if err != nil {
			playwrightErr = fmt.Errorf("could not launch browser: %w", err)
			return
		}
		_ = b.Close()
	})
	if playwrightErr != nil {
		t.Skip(playwrightErr)
	}
}

// newRunner returns a runner bound to baseURL with timeouts short enough for
// the stub CRM.
func newRunner(t *testing.T, baseURL string) *runner.Runner {
	t.Helper()
	requirePlaywright(t)

	cfg := runner.DefaultConfig
	cfg.BaseURL = baseURL
	cfg.Launch.Args = nil
	cfg.DefaultTimeout = 2 * time.Second
	cfg.NavigationTimeout = browserMaxTimeout
	cfg.SubframeWait = 500 * time.Millisecond
	cfg.LaunchTimeout = 30 * time.Second
	cfg.ScreenshotOnFailure = true
	return runner.New(&pwdriver.Launcher{DefaultTimeout: browserMaxTimeout}, cfg)
}

// stubCRM serves a minimal imitation of the CRM: a role picker and login
// form, a dashboard with the admin navigation, a reports page with a slow
// iframe and a link that opens a new tab. The login page and dashboard keep
// the element nesting the recorded fixture XPaths address.
type stubCRM struct {
	*httptest.Server
	done chan struct{}
}

func newStubCRM(t *testing.T) *stubCRM {
	t.Helper()
	s := &stubCRM{done: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: sessionName, Value: "", Path: "/", MaxAge: -1})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /dashboard", s.requireSession(s.handleDashboard))
	mux.HandleFunc("GET /reportes", s.requireSession(s.handleReports))
	mux.HandleFunc("GET /reportes/{id}", s.requireSession(s.handleReport))
	mux.HandleFunc("GET /slow-frame", s.handleSlowFrame)

	s.Server = httptest.NewServer(obs.AccessLogMiddleware("stubcrm", mux))
	t.Cleanup(func() {
		close(s.done)
		s.Server.Close()
	})
	return s
}

func (s *stubCRM) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionName)
		if err != nil || c.Value != "ok" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func writePage(w http.ResponseWriter, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!doctype html>
<html lang="es"><head><meta charset="utf-8"><title>%s</title></head>
<body>%s</body></html>`, html.EscapeString(title), body)
}

func (s *stubCRM) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	msg := ""
	if r.URL.Query().Get("error") != "" {
		msg = `<p id="error">Credenciales inválidas</p>`
	}
	writePage(w, "Iniciar Sesión", `
<main>
  <div class="login">
    <div class="card">
      <div class="logo"><strong>AMERSUR</strong></div>
      <div class="title"><h1>Bienvenido</h1></div>
      <div class="roles">
        <div>
          <button type="button" class="role" onclick="document.getElementById('role').value='admin'">Administrador</button>
          <button type="button" class="role" onclick="document.getElementById('role').value='agent'">Asesor</button>
        </div>
      </div>
      <form method="post" action="/login">
        <div><label for="username">Usuario</label><div><input id="username" name="username" autocomplete="off"></div></div>
        <div><label for="password">Contraseña</label><div><input id="password" name="password" type="password"></div></div>
        <input type="hidden" id="role" name="role" value="">
        <button id="submit" type="submit">Iniciar Sesión</button>
      </form>
      `+msg+`
    </div>
  </div>
</main>`)
}

func (s *stubCRM) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("username") != stubUser || r.PostForm.Get("password") != stubPassword {
		http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionName, Value: "ok", Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *stubCRM) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Dashboard", `
<div class="toasts"></div>
<div class="app">
  <aside><div><nav>`+navLinks()+`</nav></div></aside>
  <div>
    <header><div><span>`+stubUser+` · Administrador</span></div></header>
    <main><h1>AMERSUR</h1></main>
  </div>
</div>
<div id="novedades">
  <div class="backdrop"></div>
  <div class="panel">
    <div><h2>Novedades del CRM</h2></div>
    <div><p>Nuevo módulo de reportes disponible.</p></div>
    <div><button type="button" onclick="document.getElementById('novedades').remove()">Entendido</button></div>
  </div>
</div>`)
}

// adminNav is the sidebar of an administrator, in CRM order.
var adminNav = []struct{ label, href string }{
	{"Dashboard", "/dashboard"},
	{"Clientes", "/clientes"},
	{"Proyectos", "/proyectos"},
	{"Propiedades", "/propiedades"},
	{"Agenda", "/agenda"},
	{"Documentos", "/documentos"},
	{"AmersurChat", "/chat"},
	{"Centro de Ayuda", "/ayuda"},
	{"Mis Reportes", "/mis-reportes"},
	{"Usuarios", "/usuarios"},
	{"Marketing", "/marketing"},
	{"Reportes", "/reportes"},
	{"Configuración", "/configuracion"},
}

func navLinks() string {
	var b strings.Builder
	for _, l := range adminNav {
		fmt.Fprintf(&b, "\n    <a href=%q>%s</a>", l.href, html.EscapeString(l.label))
	}
	return b.String()
}

func (s *stubCRM) handleReports(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Reportes", `
<h1>Reportes</h1>
<input id="filter" placeholder="Filtrar">
<a id="open-report" href="/reportes/42" target="_blank">Ver reporte</a>
<iframe name="ads" src="/slow-frame"></iframe>`)
}

func (s *stubCRM) handleReport(w http.ResponseWriter, r *http.Request) {
	writePage(w, "Reporte", `
<h1>Reporte `+html.EscapeString(r.PathValue("id"))+`</h1>
<textarea id="notes"></textarea>
<button id="export" onclick="document.getElementById('done').hidden=false">Exportar</button>
<p id="done" hidden>Exportación completa</p>`)
}

// handleSlowFrame never finishes loading within the subframe wait.
func (s *stubCRM) handleSlowFrame(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><html><body>cargando")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	select {
	case <-r.Context().Done():
	case <-s.done:
	case <-time.After(browserMaxTimeout):
	}
	fmt.Fprint(w, "</body></html>")
}
