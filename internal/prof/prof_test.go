package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/keithlinneman/securelogin-web/internal/log"
)

func TestStart_Disabled(t *testing.T) {
	stop, err := Start(context.Background(), log.Nop(), Options{
		Enabled:       false,
		ServerAddress: "http://ignored",
		MutexFraction: 5,
	})
	if err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()
}

func TestStart_NilLogger(t *testing.T) {
	stop, err := Start(context.Background(), nil, Options{})
	if err != nil || stop == nil {
		t.Fatalf("stop nil=%v err=%v", stop == nil, err)
	}
}

func TestStart_EnabledRequiresAddress(t *testing.T) {
	stop, err := Start(context.Background(), log.Nop(), Options{Enabled: true, AppName: "securelogin-web"})
	if err == nil || !strings.Contains(err.Error(), "server address") {
		t.Fatalf("err = %v, want missing address", err)
	}
	if stop == nil {
		t.Fatal("stop func must be non-nil even on error")
	}
	stop()
}

func TestStart_UnreachableServer(t *testing.T) {
	// pyroscope connects lazily, Start may succeed; either way stop must be safe
	stop, _ := Start(context.Background(), log.Nop(), Options{
		Enabled:       true,
		AppName:       "securelogin-web",
		ServerAddress: "http://127.0.0.1:1",
		Tags:          map[string]string{"env": "test"},
	})
	if stop == nil {
		t.Fatal("stop func is nil")
	}
	stop()
	stop()
}
