package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"patchdiff/internal/oracle/external"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "patchdiff.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	p := writeConfig(t, `{
		"oracle": "external",
		"maxPasses": 10,
		"external": {
			"oldDatabase": "old.idb",
			"newDatabase": "new.idb",
			"scripts": {"addresses": "ida_get_addresses.py"},
			"logFile": "idaout.txt"
		}
	}`)

	got, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		Oracle:    "external",
		Format:    "text",
		MaxPasses: 10,
		External: external.Config{
			OldDatabase: "old.idb",
			NewDatabase: "new.idb",
			Scripts:     external.Scripts{Addresses: "ida_get_addresses.py"},
			LogFile:     "idaout.txt",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load (-want +got):\n%s", diff)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvPath, writeConfig(t, `{"arch": "arm64"}`))
	got, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if got.Arch != "arm64" || got.Oracle != "native" {
		t.Errorf("Load = %+v", got)
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Setenv(EnvPath, "")
	got, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("Load (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "missing", path: filepath.Join(t.TempDir(), "nope.json")},
		{name: "malformed", path: writeConfig(t, `{"oracle":`)},
		{name: "bad oracle", path: writeConfig(t, `{"oracle": "ghidra"}`)},
		{name: "negative passes", path: writeConfig(t, `{"maxPasses": -1}`)},
		{name: "bad format", path: writeConfig(t, `{"format": "html"}`)},
		{name: "bad arch", path: writeConfig(t, `{"arch": "mips"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Error("Load succeeded")
			}
		})
	}
}

func TestSchema(t *testing.T) {
	bts, err := Schema()
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(bts, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	defs, ok := doc["$defs"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no $defs: %s", bts)
	}

	root, _ := defs["Config"].(map[string]any)
	props, _ := root["properties"].(map[string]any)
	ext, _ := props["external"].(map[string]any)
	ref, _ := ext["$ref"].(string)
	if ref != "#/$defs/ExternalConfig" {
		t.Fatalf("external $ref = %q, want #/$defs/ExternalConfig", ref)
	}

	extDef, _ := defs["ExternalConfig"].(map[string]any)
	extProps, _ := extDef["properties"].(map[string]any)
	for _, want := range []string{"command", "oldDatabase", "newDatabase", "scripts", "badAddr"} {
		if _, ok := extProps[want]; !ok {
			t.Errorf("ExternalConfig lacks %q", want)
		}
	}
	if _, ok := defs["ExternalScripts"]; !ok {
		t.Error("schema lacks ExternalScripts")
	}
}
