package brand

import (
	"strings"
	"testing"
)

func TestBrandLoaded(t *testing.T) {
	if Name == "" {
		t.Fatal("brand name not loaded from brand.json")
	}
	if LowerName != strings.ToLower(Name) {
		t.Errorf("lowerName %q is not the lowercase of name %q", LowerName, Name)
	}
	if BinaryName == "" || ConfigFileName == "" {
		t.Error("binaryName and configFileName must be set")
	}
}

func TestGetSocketPath(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_RUN_DIR", "/tmp/warden-test")
	got := GetSocketPath()
	want := "/tmp/warden-test/" + LowerName + "-" + SocketName
	if got != want {
		t.Errorf("GetSocketPath() = %q, want %q", got, want)
	}
}

func TestGetConfigDirPrefix(t *testing.T) {
	t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
	t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/w")
	if got := GetConfigDir(); got != "/opt/w/config" {
		t.Errorf("GetConfigDir() = %q, want /opt/w/config", got)
	}
}
