package opshttp

import (
	"net/http"

	"github.com/keithlinneman/securelogin-web/internal/health"
)

type Options struct {
	// Port defaults to 9000
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic runs for each recovered handler panic, e.g. to count it
	OnPanic func()
}
