package main

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = []string{"index.html", "login.html", "register.html", "calendar.html", "admin.html"}

// templateRenderer は echo.Renderer の実装です。各ページを共通レイアウトと組み合わせて保持します
type templateRenderer struct {
	templates map[string]*template.Template
}

func newTemplateRenderer() (*templateRenderer, error) {
	funcs := template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}

	r := &templateRenderer{templates: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		tmpl, err := template.New(page).Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", page, err)
		}
		r.templates[page] = tmpl
	}
	return r, nil
}

func (r *templateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "template not found: "+name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}

// render はフラッシュメッセージとログイン中ユーザーを付けてページを描画します
func (a *App) render(c echo.Context, status int, name string, data map[string]interface{}) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["flashes"] = popFlashes(c)
	if ident, ok := identityFrom(c); ok {
		data["identity"] = ident
	}
	return c.Render(status, name, data)
}
