package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Each pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			name         TEXT NOT NULL COLLATE NOCASE UNIQUE,
			type         TEXT NOT NULL DEFAULT '',
			address      TEXT NOT NULL DEFAULT '',
			is_online    INTEGER NOT NULL DEFAULT 1,
			commands     TEXT NOT NULL DEFAULT '{}',
			dependencies TEXT NOT NULL DEFAULT '[]',
			schedule     TEXT NOT NULL DEFAULT '[]',
			outlets      TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(name string) *Device {
	return &Device{
		Name:     name,
		Type:     "pc",
		Address:  "192.168.1.20:22",
		IsOnline: true,
		Commands: map[CommandKey]string{
			CommandOn:  "wol 00:11:22:33:44:55",
			CommandOff: "ssh shutdown",
		},
		Schedule: []ScheduleEntry{
			{Action: ActionTurnOn, Days: []string{"Monday", "Tuesday"}, Time: "08:30"},
			{Action: ActionTurnOff, OneTimeUTC: "2025-03-05 18:00"},
		},
	}
}

func testPowerStrip(name string) *Device {
	return &Device{
		Name:     name,
		Type:     PowerStripType,
		IsOnline: true,
		Commands: map[CommandKey]string{CommandOn: "strip on", CommandOff: "strip off"},
		Outlets: []Outlet{
			{Name: "Projector", Commands: map[CommandKey]string{CommandOn: "o1 on", CommandOff: "o1 off"}},
			{Name: "Speakers"},
		},
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates device successfully", func(t *testing.T) {
		if err := repo.Create(ctx, testDevice("Lab PC")); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByName(ctx, "Lab PC")
		if err != nil {
			t.Fatalf("GetByName() error = %v", err)
		}
		if got.Commands[CommandOn] != "wol 00:11:22:33:44:55" {
			t.Errorf("Commands[on] = %q", got.Commands[CommandOn])
		}
		if len(got.Schedule) != 2 || got.Schedule[1].OneTimeUTC != "2025-03-05 18:00" {
			t.Errorf("Schedule = %+v", got.Schedule)
		}
		if !got.IsOnline {
			t.Error("IsOnline = false, want true")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("rejects case-insensitive duplicate name", func(t *testing.T) {
		err := repo.Create(ctx, testDevice("LAB pc"))
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Create() error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("stores empty collections", func(t *testing.T) {
		if err := repo.Create(ctx, &Device{Name: "Bare"}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		got, err := repo.GetByName(ctx, "bare")
		if err != nil {
			t.Fatalf("GetByName() error = %v", err)
		}
		if got.Commands != nil || got.Schedule != nil || got.Outlets != nil || got.Dependencies != nil {
			t.Errorf("expected nil collections, got %+v", got)
		}
	})
}

func TestSQLiteRepository_GetByName_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.GetByName(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByName() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_ListKeepsRegistrationOrder(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, name := range []string{"Zulu", "Alpha", "Mike"} {
		if err := repo.Create(ctx, testDevice(name)); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := []string{"Zulu", "Alpha", "Mike"}
	if len(devices) != len(want) {
		t.Fatalf("List() returned %d devices, want %d", len(devices), len(want))
	}
	for i, d := range devices {
		if d.Name != want[i] {
			t.Errorf("devices[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
}

func TestSQLiteRepository_Update(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("Projector")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateOnline(ctx, "Projector", false); err != nil {
		t.Fatalf("UpdateOnline() error = %v", err)
	}

	dev.Type = "projector"
	dev.IsOnline = true
	dev.Dependencies = []Dependency{{DependsOn: "Lab PC", DelayMinutes: 5}}
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "projector")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.Type != "projector" {
		t.Errorf("Type = %q, want projector", got.Type)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].DelayMinutes != 5 {
		t.Errorf("Dependencies = %+v", got.Dependencies)
	}
	if got.IsOnline {
		t.Error("Update() must not write the online flag")
	}

	if err := repo.Update(ctx, testDevice("Nope")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("Kiosk")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Delete(ctx, "KIOSK"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "Kiosk"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdateTriggered(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("Lab PC")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	entry := dev.Schedule[1]

	if err := repo.UpdateTriggered(ctx, "lab pc", 1, entry); err != nil {
		t.Fatalf("UpdateTriggered() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "Lab PC")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.Schedule[0].HasTriggered {
		t.Error("entry 0 should not be touched")
	}
	if !got.Schedule[1].HasTriggered {
		t.Error("entry 1 HasTriggered = false, want true")
	}

	if err := repo.UpdateTriggered(ctx, "Lab PC", 2, entry); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("UpdateTriggered(out of range) error = %v, want ErrIndexOutOfRange", err)
	}
	if err := repo.UpdateTriggered(ctx, "Lab PC", -1, entry); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("UpdateTriggered(-1) error = %v, want ErrIndexOutOfRange", err)
	}
	if err := repo.UpdateTriggered(ctx, "ghost", 0, entry); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateTriggered(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_UpdateTriggeredChecksEntry(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("Lab PC")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	tests := []struct {
		name  string
		index int
		entry ScheduleEntry
	}{
		{"weekly entry at index", 0, ScheduleEntry{Action: ActionTurnOn, OneTimeUTC: "2025-03-05 18:00"}},
		{"different instant", 1, ScheduleEntry{Action: ActionTurnOff, OneTimeUTC: "2025-03-05 19:00"}},
		{"different action", 1, ScheduleEntry{Action: ActionTurnOn, OneTimeUTC: "2025-03-05 18:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.UpdateTriggered(ctx, "Lab PC", tt.index, tt.entry)
			if !errors.Is(err, ErrEntryChanged) {
				t.Errorf("UpdateTriggered() error = %v, want ErrEntryChanged", err)
			}
		})
	}

	got, _ := repo.GetByName(ctx, "Lab PC")
	for i, e := range got.Schedule {
		if e.HasTriggered {
			t.Errorf("entry %d latched by a mismatched update", i)
		}
	}
}

func TestSQLiteRepository_UpdateOutletOn(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testPowerStrip("Strip")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateOutletOn(ctx, "Strip", 1, true); err != nil {
		t.Fatalf("UpdateOutletOn() error = %v", err)
	}

	got, err := repo.GetByName(ctx, "Strip")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if got.Outlets[0].IsOn || !got.Outlets[1].IsOn {
		t.Errorf("Outlets = %+v, want only outlet 1 on", got.Outlets)
	}
	if got.Outlets[0].Commands[CommandOn] != "o1 on" {
		t.Errorf("outlet commands lost: %+v", got.Outlets[0].Commands)
	}

	if err := repo.UpdateOutletOn(ctx, "Strip", 1, false); err != nil {
		t.Fatalf("UpdateOutletOn(false) error = %v", err)
	}
	got, _ = repo.GetByName(ctx, "Strip")
	if got.Outlets[1].IsOn {
		t.Error("outlet 1 still on after switching off")
	}

	if err := repo.UpdateOutletOn(ctx, "Strip", 5, true); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("UpdateOutletOn(out of range) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestSQLiteRepository_UpdateOnline(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice("Lab PC")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.UpdateOnline(ctx, "Lab PC", false); err != nil {
		t.Fatalf("UpdateOnline() error = %v", err)
	}

	got, _ := repo.GetByName(ctx, "Lab PC")
	if got.IsOnline {
		t.Error("IsOnline = true, want false")
	}
	if err := repo.UpdateOnline(ctx, "ghost", true); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateOnline(missing) error = %v, want ErrDeviceNotFound", err)
	}
}
