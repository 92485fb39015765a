package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestManagerParseJSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "notify.json", `{
		"enabled": true,
		"channels": {"email": {"enabled": true}},
		"email_recipients": "ops@example.com"
	}`)

	m := NewManager(path)
	st, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !st.Enabled || !st.Channels[ChannelEmail].Enabled {
		t.Fatalf("settings not applied: %+v", st)
	}
	if st.EmailRecipients != "ops@example.com" {
		t.Fatalf("recipients = %q", st.EmailRecipients)
	}
}

func TestManagerParseYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "notify.yaml", `
enabled: yes
quiet_hours:
  enabled: true
  start: "23:00"
  end: "06:30"
escalation:
  mode: staged
  stages:
    sms:
      enabled: true
`)

	m := NewManager(path)
	st, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !st.Enabled {
		t.Fatal("enabled not parsed from yaml")
	}
	if st.QuietHours.Start != "23:00" || st.QuietHours.End != "06:30" {
		t.Fatalf("quiet hours = %+v", st.QuietHours)
	}
	if st.Escalation.Mode != ModeStaged || !st.Escalation.Stages["sms"].Enabled {
		t.Fatalf("escalation = %+v", st.Escalation)
	}
}

func TestManagerParseMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager(filepath.Join(t.TempDir(), "absent.json"))
	st, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.Enabled {
		t.Fatal("missing file must yield defaults")
	}
	if len(st.Templates) == 0 {
		t.Fatal("defaults must carry templates")
	}
}

func TestManagerParseBrokenFileFails(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "notify.json", `{"enabled": tru`)
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestManagerLoadCommitsSnapshot(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "notify.json", `{"enabled": true}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := m.Get()
	if !got.Enabled {
		t.Fatal("Get must return the committed snapshot")
	}
	// Mutating the returned snapshot must not affect the manager.
	got.Events["backup_complete"] = false
	if !m.Get().Events["backup_complete"] {
		t.Fatal("Get must hand out deep copies")
	}
}
