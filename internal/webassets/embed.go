package webassets

import (
	"embed"
	"fmt"
	"html/template"
	"sync"
)

//go:embed templates
var embedded embed.FS

var loginTmpl = sync.OnceValue(func() *template.Template {
	t, err := template.ParseFS(embedded, "templates/login.html")
	if err != nil {
		panic(fmt.Errorf("webassets: parse login template: %w", err))
	}
	return t
})

// LoginPage is the data the login template renders
type LoginPage struct {
	Title string
}

// LoginTemplate returns the parsed login form. Templates are compiled into
// the binary, so a parse failure is a build defect and panics.
func LoginTemplate() *template.Template {
	return loginTmpl()
}
