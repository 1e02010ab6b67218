package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/voicekey"
	"github.com/loykin/voicekey/internal/auth"
	"github.com/loykin/voicekey/pkg/client"
)

func TestRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	for _, name := range []string{"run", "toggle", "start", "stop", "status", "history", "config"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("missing subcommand %q: %v", name, err)
		}
	}
}

func TestConfigSetThenShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice-keyboard", "config.json")
	var out bytes.Buffer
	if err := cmdConfigSet(&out, path, ConfigSetFlags{APIKey: "dg-secret-1234", Hotkey: "F14"}); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if !strings.Contains(out.String(), "Configuration saved!") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "dg-secret-1234" || cfg.HotkeyCode != "F14" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	// second set keeps earlier values
	out.Reset()
	if err := cmdConfigSet(&out, path, ConfigSetFlags{ProjectID: "proj"}); err != nil {
		t.Fatalf("config set: %v", err)
	}
	cfg, _ = voicekey.LoadConfig(path)
	if cfg.APIKey != "dg-secret-1234" || cfg.ProjectID != "proj" {
		t.Fatalf("values lost: %+v", cfg)
	}

	out.Reset()
	if err := cmdConfigShow(&out, path); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), "dg-secret-1234") {
		t.Fatalf("api key must be masked:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "****1234") {
		t.Fatalf("expected masked key:\n%s", out.String())
	}
}

func TestConfigTokenStoresHashOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	var out bytes.Buffer
	if err := cmdConfigToken(&out, path); err != nil {
		t.Fatalf("config token: %v", err)
	}
	tok := strings.SplitN(out.String(), "\n", 2)[0]
	if tok == "" {
		t.Fatalf("no token printed: %q", out.String())
	}
	cfg, err := voicekey.LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APITokenHash == "" || strings.Contains(cfg.APITokenHash, tok) {
		t.Fatalf("expected a hash, got %q", cfg.APITokenHash)
	}
	if !auth.NewVerifier(cfg.APITokenHash).Verify(tok) {
		t.Fatalf("printed token does not verify")
	}

	out.Reset()
	if err := cmdConfigShow(&out, path); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out.String(), cfg.APITokenHash) {
		t.Fatalf("token hash must be masked:\n%s", out.String())
	}
}

func TestConfigSetRequiresAFlag(t *testing.T) {
	if err := cmdConfigSet(&bytes.Buffer{}, filepath.Join(t.TempDir(), "c.json"), ConfigSetFlags{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfigShowMissingFileUsesDefaults(t *testing.T) {
	var out bytes.Buffer
	path := filepath.Join(t.TempDir(), "none.json")
	if err := cmdConfigShow(&out, path); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "F13") {
		t.Fatalf("expected default hotkey:\n%s", out.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("show must not create the file")
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{"": "", "abc": "****", "abcdefgh": "****efgh"}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Fatalf("maskKey(%q)=%q want %q", in, got, want)
		}
	}
}

func fakeDaemon(t *testing.T, ok bool) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/toggle", func(w http.ResponseWriter, r *http.Request) {
		res := client.ActionResult{OK: ok, State: "recording", Status: "Recording..."}
		if !ok {
			res = client.ActionResult{OK: false, State: "idle", Status: "DEEPGRAM_API_KEY not set - configure an API key first"}
		}
		_ = json.NewEncoder(w).Encode(res)
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Status{State: "recording", Status: "Recording...", PID: 99})
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]client.Event{{Type: "stop", Source: "hotkey", PID: 99, Outcome: "exited", Duration: "120ms", OccurredAt: time.Now()}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func TestCmdToggle(t *testing.T) {
	var out bytes.Buffer
	flags := APIFlags{APIUrl: fakeDaemon(t, true), APITimeout: 2 * time.Second}
	if err := cmdAction(context.Background(), &out, flags, (*client.Client).Toggle); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if out.String() != "Recording... (recording)\n" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestCmdToggleRefused(t *testing.T) {
	var out bytes.Buffer
	flags := APIFlags{APIUrl: fakeDaemon(t, false), APITimeout: 2 * time.Second}
	err := cmdAction(context.Background(), &out, flags, (*client.Client).Toggle)
	if err == nil || !strings.Contains(err.Error(), "DEEPGRAM_API_KEY") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestCmdStatusAndHistory(t *testing.T) {
	url := fakeDaemon(t, true)
	var out bytes.Buffer
	if err := cmdStatus(context.Background(), &out, APIFlags{APIUrl: url, APITimeout: time.Second}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "PID:    99") || !strings.Contains(out.String(), "API key: not set") {
		t.Fatalf("unexpected status output:\n%s", out.String())
	}

	out.Reset()
	if err := cmdHistory(context.Background(), &out, APIFlags{APIUrl: url, APITimeout: time.Second, Limit: 5}); err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out.String(), "outcome=exited after=120ms") {
		t.Fatalf("unexpected history output:\n%s", out.String())
	}

	out.Reset()
	if err := cmdStatus(context.Background(), &out, APIFlags{APIUrl: url, APITimeout: time.Second, JSON: true}); err != nil {
		t.Fatalf("status json: %v", err)
	}
	var st client.Status
	if err := json.Unmarshal(out.Bytes(), &st); err != nil || st.PID != 99 {
		t.Fatalf("bad json output %q: %v", out.String(), err)
	}
}

func TestCmdActionUnreachable(t *testing.T) {
	flags := APIFlags{APIUrl: "http://127.0.0.1:1/api", APITimeout: 300 * time.Millisecond}
	err := cmdAction(context.Background(), &bytes.Buffer{}, flags, (*client.Client).Stop)
	if err == nil || !strings.Contains(err.Error(), "is voicekey running?") {
		t.Fatalf("expected connection error, got %v", err)
	}
}
