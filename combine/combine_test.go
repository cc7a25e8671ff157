package combine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nalgeon/be"

	"github.com/dhcgn/mail-export/model"
)

func writeRecord(t *testing.T, dir, name, content string) {
	t.Helper()
	be.Err(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644), nil)
}

func readCombined(t *testing.T, path string) []model.CombinedRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	be.Err(t, err, nil)
	var out []model.CombinedRecord
	be.Err(t, json.Unmarshal(data, &out), nil)
	return out
}

func TestCombine_SortsByID(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "b.json", `{"sender":"s-b","subject":"B","body":"bb"}`)
	writeRecord(t, in, "a.json", `{"sender":"s-a","subject":"A","body":"aa"}`)
	writeRecord(t, in, "c.json", `{"sender":"s-c","subject":"C","body":"cc"}`)
	out := filepath.Join(t.TempDir(), "all_emails.json")

	summary, err := New(nil, nil).Combine(in, out)
	be.Err(t, err, nil)
	be.Equal(t, summary.Included, 3)
	be.Equal(t, summary.Failed, 0)
	be.True(t, summary.Bytes > 0)

	got := readCombined(t, out)
	be.Equal(t, len(got), 3)
	be.Equal(t, got[0], model.CombinedRecord{Sender: "s-a", Subject: "A", Body: "aa", ID: "a"})
	be.Equal(t, got[1].ID, "b")
	be.Equal(t, got[2].ID, "c")
}

func TestCombine_SkipsBrokenRecords(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "good.json", `{"sender":"x","subject":"y","body":"z"}`)
	writeRecord(t, in, "broken.json", `{"sender":`)
	writeRecord(t, in, "array.json", `[1,2,3]`)
	out := filepath.Join(t.TempDir(), "all.json")

	summary, err := New(nil, nil).Combine(in, out)
	be.Err(t, err, nil)
	be.Equal(t, summary.Found, 3)
	be.Equal(t, summary.Included, 1)
	be.Equal(t, summary.Failed, 2)

	got := readCombined(t, out)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].ID, "good")
}

func TestCombine_MissingOrEmptyInputWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "all.json")

	_, err := New(nil, nil).Combine(filepath.Join(t.TempDir(), "nope"), out)
	be.Err(t, err, model.ErrInputMissing)

	_, err = New(nil, nil).Combine(t.TempDir(), out)
	be.Err(t, err, model.ErrNoInputFiles)

	_, err = os.Stat(out)
	be.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCombine_WriteFailure(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "a.json", `{"sender":"x","subject":"y","body":"z"}`)
	out := filepath.Join(t.TempDir(), "missing-dir", "all.json")

	_, err := New(nil, nil).Combine(in, out)
	be.Err(t, err, "write combined file")

	_, err = os.Stat(out)
	be.True(t, errors.Is(err, os.ErrNotExist))
}

func TestCombine_RejectsNonObjectRecords(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "a.json", `null`)
	writeRecord(t, in, "b.json", `"text"`)
	writeRecord(t, in, "c.json", ``)
	writeRecord(t, in, "d.json", `{"sender":"x","subject":"y","body":"z"}`)
	out := filepath.Join(t.TempDir(), "all.json")

	summary, err := New(nil, nil).Combine(in, out)
	be.Err(t, err, nil)
	be.Equal(t, summary.Found, 4)
	be.Equal(t, summary.Included, 1)
	be.Equal(t, summary.Failed, 3)

	got := readCombined(t, out)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].ID, "d")
}

func TestCombine_IgnoresOtherExtensionCase(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "a.json", `{"sender":"lower","subject":"","body":""}`)
	writeRecord(t, in, "a.JSON", `{"sender":"upper","subject":"","body":""}`)
	out := filepath.Join(t.TempDir(), "all.json")

	summary, err := New(nil, nil).Combine(in, out)
	be.Err(t, err, nil)
	be.Equal(t, summary.Found, 1)

	got := readCombined(t, out)
	be.Equal(t, len(got), 1)
	be.Equal(t, got[0].Sender, "lower")
}

func TestCombineWithBackup_RemovesSnapshotWhenOutputFails(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "a.json", `{"sender":"x","subject":"y","body":"z"}`)
	root := t.TempDir()
	out := filepath.Join(root, "missing-dir", "all_emails.json")
	backups := filepath.Join(root, "email_backups")

	summary, err := New(nil, nil).CombineWithBackup(in, out, backups, time.Now())
	be.Err(t, err, "write combined file")
	be.Equal(t, summary.Backup, "")

	entries, err := os.ReadDir(backups)
	be.Err(t, err, nil)
	be.Equal(t, len(entries), 0)
}

func TestCombineWithBackup(t *testing.T) {
	in := t.TempDir()
	writeRecord(t, in, "m1.json", `{"sender":"a","subject":"b","body":"Grüße <b>"}`)
	root := t.TempDir()
	out := filepath.Join(root, "all_emails.json")
	backups := filepath.Join(root, "email_backups")
	now := time.Date(2026, 10, 19, 8, 30, 5, 0, time.UTC)

	summary, err := New(nil, nil).CombineWithBackup(in, out, backups, now)
	be.Err(t, err, nil)
	be.Equal(t, summary.Backup, filepath.Join(backups, "all_emails_20261019_083005.json"))

	latest, err := os.ReadFile(out)
	be.Err(t, err, nil)
	snapshot, err := os.ReadFile(summary.Backup)
	be.Err(t, err, nil)
	be.Equal(t, string(snapshot), string(latest))
	be.True(t, json.Valid(latest))

	want := "[\n  {\n    \"sender\": \"a\",\n    \"subject\": \"b\",\n    \"body\": \"Grüße <b>\",\n    \"id\": \"m1\"\n  }\n]\n"
	be.Equal(t, string(latest), want)
}

func TestBackupPath(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	be.Equal(t, BackupPath("out/custom.json", "bk", now), filepath.Join("bk", "custom_20260102_030405.json"))
	be.Equal(t, BackupPath("noext", "bk", now), filepath.Join("bk", "noext_20260102_030405"))
}
