package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	order   []string
	devices map[string]*Device
	// For testing error paths
	createErr error
	updateErr error
	onlineErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByName(_ context.Context, name string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[NameKey(name)]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.order))
	for _, key := range m.order {
		devices = append(devices, *m.devices[key].DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := NameKey(device.Name)
	if _, exists := m.devices[key]; exists {
		return ErrDeviceExists
	}
	m.devices[key] = device.DeepCopy()
	m.order = append(m.order, key)
	return nil
}

func (m *MockRepository) Update(_ context.Context, device *Device) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := NameKey(device.Name)
	if _, exists := m.devices[key]; !exists {
		return ErrDeviceNotFound
	}
	m.devices[key] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NameKey(name)
	if _, exists := m.devices[key]; !exists {
		return ErrDeviceNotFound
	}
	delete(m.devices, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockRepository) UpdateOnline(_ context.Context, name string, online bool) error {
	if m.onlineErr != nil {
		return m.onlineErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[NameKey(name)]
	if !ok {
		return ErrDeviceNotFound
	}
	d.IsOnline = online
	return nil
}

func (m *MockRepository) UpdateTriggered(_ context.Context, name string, index int, entry ScheduleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[NameKey(name)]
	if !ok {
		return ErrDeviceNotFound
	}
	if index < 0 || index >= len(d.Schedule) {
		return ErrIndexOutOfRange
	}
	if !d.Schedule[index].SameOneTime(entry) {
		return ErrEntryChanged
	}
	d.Schedule[index].HasTriggered = true
	return nil
}

func (m *MockRepository) UpdateOutletOn(_ context.Context, name string, index int, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[NameKey(name)]
	if !ok {
		return ErrDeviceNotFound
	}
	if index < 0 || index >= len(d.Outlets) {
		return ErrIndexOutOfRange
	}
	d.Outlets[index].IsOn = on
	return nil
}

func newLoadedRegistry(t *testing.T, devices ...*Device) (*Registry, *MockRepository) {
	t.Helper()

	repo := NewMockRepository()
	for _, d := range devices {
		if err := repo.Create(context.Background(), d); err != nil {
			t.Fatalf("seeding %s: %v", d.Name, err)
		}
	}

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	return registry, repo
}

func TestRegistry_RefreshCache(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("A"), testDevice("B"))

	if got := registry.GetDeviceCount(); got != 2 {
		t.Errorf("GetDeviceCount() = %d, want 2", got)
	}
}

func TestRegistry_SnapshotOrderAndIsolation(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("Zulu"), testDevice("Alpha"))

	snap := registry.Snapshot()
	if len(snap) != 2 || snap[0].Name != "Zulu" || snap[1].Name != "Alpha" {
		t.Fatalf("Snapshot() = %v, want registration order", snap)
	}

	snap[0].Schedule[0].HasTriggered = true
	snap[0].Commands[CommandOn] = "mutated"

	again := registry.Snapshot()
	if again[0].Schedule[0].HasTriggered {
		t.Error("mutating a snapshot leaked into the registry schedule")
	}
	if again[0].Commands[CommandOn] == "mutated" {
		t.Error("mutating a snapshot leaked into the registry commands")
	}
}

func TestRegistry_GetDevice(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("Lab PC"))
	ctx := context.Background()

	got, err := registry.GetDevice(ctx, "LAB PC")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.Name != "Lab PC" {
		t.Errorf("Name = %q, want %q", got.Name, "Lab PC")
	}

	if _, err := registry.GetDevice(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_CreateDevice(t *testing.T) {
	ctx := context.Background()

	t.Run("normalises and appends", func(t *testing.T) {
		registry, _ := newLoadedRegistry(t, testDevice("First"))

		dev := &Device{
			Name:     "Second",
			Commands: map[CommandKey]string{"ON": "power on"},
			Schedule: []ScheduleEntry{{Action: "Turn_On", Days: []string{"friday"}, Time: "07:00"}},
		}
		if err := registry.CreateDevice(ctx, dev); err != nil {
			t.Fatalf("CreateDevice() error = %v", err)
		}

		snap := registry.Snapshot()
		if len(snap) != 2 || snap[1].Name != "Second" {
			t.Fatalf("Snapshot() = %v, want Second appended", snap)
		}
		if snap[1].Commands[CommandOn] != "power on" {
			t.Errorf("command key not normalised: %v", snap[1].Commands)
		}
		if snap[1].Schedule[0].Action != ActionTurnOn {
			t.Errorf("action not normalised: %q", snap[1].Schedule[0].Action)
		}
		if !snap[1].IsOnline {
			t.Error("new device should start online")
		}
	})

	t.Run("rejects case-insensitive duplicate", func(t *testing.T) {
		registry, _ := newLoadedRegistry(t, testDevice("Projector"))

		err := registry.CreateDevice(ctx, testDevice("PROJECTOR"))
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("CreateDevice() error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("rejects invalid device", func(t *testing.T) {
		registry, _ := newLoadedRegistry(t)

		err := registry.CreateDevice(ctx, &Device{Name: ""})
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("CreateDevice() error = %v, want ErrInvalidName", err)
		}
	})

	t.Run("repository error leaves cache untouched", func(t *testing.T) {
		registry, repo := newLoadedRegistry(t)
		repo.createErr = errors.New("disk full")

		if err := registry.CreateDevice(ctx, testDevice("X")); err == nil {
			t.Fatal("CreateDevice() expected error")
		}
		if registry.GetDeviceCount() != 0 {
			t.Error("failed create should not be cached")
		}
	})
}

func TestRegistry_UpdateDevicePreservesOnline(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("Lab PC"))
	ctx := context.Background()

	if err := registry.SetOnline(ctx, "Lab PC", false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	update := testDevice("Lab PC")
	update.IsOnline = true
	update.Type = "workstation"
	if err := registry.UpdateDevice(ctx, update); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}

	got, _ := registry.GetDevice(ctx, "Lab PC")
	if got.Type != "workstation" {
		t.Errorf("Type = %q, want workstation", got.Type)
	}
	if got.IsOnline {
		t.Error("UpdateDevice must not overwrite the liveness flag")
	}

	if err := registry.UpdateDevice(ctx, testDevice("Ghost")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("A"), testDevice("B"), testDevice("C"))
	ctx := context.Background()

	if err := registry.DeleteDevice(ctx, "b"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	snap := registry.Snapshot()
	if len(snap) != 2 || snap[0].Name != "A" || snap[1].Name != "C" {
		t.Errorf("Snapshot() after delete = %v", snap)
	}
	if err := registry.DeleteDevice(ctx, "b"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second DeleteDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_SetOnline(t *testing.T) {
	registry, repo := newLoadedRegistry(t, testDevice("Lab PC"))
	ctx := context.Background()

	if err := registry.SetOnline(ctx, "lab pc", false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}
	got, _ := registry.GetDevice(ctx, "Lab PC")
	if got.IsOnline {
		t.Error("IsOnline = true, want false")
	}

	repo.onlineErr = errors.New("locked")
	if err := registry.SetOnline(ctx, "Lab PC", true); err == nil {
		t.Fatal("SetOnline() expected error")
	}
	got, _ = registry.GetDevice(ctx, "Lab PC")
	if got.IsOnline {
		t.Error("cache changed despite persistence failure")
	}
}

func TestRegistry_MarkTriggered(t *testing.T) {
	registry, repo := newLoadedRegistry(t, testDevice("Lab PC"))
	ctx := context.Background()
	entry := testDevice("Lab PC").Schedule[1]

	if err := registry.MarkTriggered(ctx, "Lab PC", 1, entry); err != nil {
		t.Fatalf("MarkTriggered() error = %v", err)
	}

	got, _ := registry.GetDevice(ctx, "Lab PC")
	if !got.Schedule[1].HasTriggered {
		t.Error("cache HasTriggered = false, want true")
	}
	stored, _ := repo.GetByName(ctx, "Lab PC")
	if !stored.Schedule[1].HasTriggered {
		t.Error("repository HasTriggered = false, want true")
	}

	if err := registry.MarkTriggered(ctx, "Lab PC", 0, got.Schedule[0]); !errors.Is(err, ErrEntryChanged) {
		t.Errorf("MarkTriggered(weekly) error = %v, want ErrEntryChanged", err)
	}
	other := ScheduleEntry{Action: ActionTurnOn, OneTimeUTC: "2030-01-01 00:00"}
	if err := registry.MarkTriggered(ctx, "Lab PC", 9, other); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("MarkTriggered(9) error = %v, want ErrIndexOutOfRange", err)
	}
	if err := registry.MarkTriggered(ctx, "ghost", 0, entry); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("MarkTriggered(ghost) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_MarkTriggeredFollowsReorderedSchedule(t *testing.T) {
	dev := &Device{Name: "Projector", IsOnline: true, Schedule: []ScheduleEntry{
		{Action: ActionTurnOn, OneTimeUTC: "2025-03-05 09:00"},
		{Action: ActionTurnOff, OneTimeUTC: "2025-03-05 12:00"},
	}}
	registry, repo := newLoadedRegistry(t, dev)
	ctx := context.Background()

	// The 09:00 entry came due at index 0, then the schedule was reordered.
	due := dev.Schedule[0]
	reordered := dev.DeepCopy()
	reordered.Schedule[0], reordered.Schedule[1] = reordered.Schedule[1], reordered.Schedule[0]
	if err := registry.UpdateDevice(ctx, reordered); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}

	if err := registry.MarkTriggered(ctx, "Projector", 0, due); err != nil {
		t.Fatalf("MarkTriggered() error = %v", err)
	}

	for _, got := range []*Device{mustGet(t, registry), mustGetRepo(t, repo)} {
		if got.Schedule[0].HasTriggered {
			t.Error("12:00 turn_off latched although it never came due")
		}
		if !got.Schedule[1].HasTriggered {
			t.Error("09:00 turn_on not latched after moving")
		}
	}

	// Once removed there is nothing left to latch.
	removed := reordered.DeepCopy()
	removed.Schedule = removed.Schedule[:1]
	if err := registry.UpdateDevice(ctx, removed); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	if err := registry.MarkTriggered(ctx, "Projector", 1, due); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("MarkTriggered(removed) error = %v, want ErrIndexOutOfRange", err)
	}
	if err := registry.MarkTriggered(ctx, "Projector", 0, due); !errors.Is(err, ErrEntryChanged) {
		t.Errorf("MarkTriggered(replaced) error = %v, want ErrEntryChanged", err)
	}
}

func mustGet(t *testing.T, registry *Registry) *Device {
	t.Helper()
	d, err := registry.GetDevice(context.Background(), "Projector")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	return d
}

func mustGetRepo(t *testing.T, repo Repository) *Device {
	t.Helper()
	d, err := repo.GetByName(context.Background(), "Projector")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	return d
}

func TestRegistry_SetOutletOn(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testPowerStrip("Strip"))
	ctx := context.Background()

	if err := registry.SetOutletOn(ctx, "Strip", 0, true); err != nil {
		t.Fatalf("SetOutletOn() error = %v", err)
	}
	got, _ := registry.GetDevice(ctx, "Strip")
	if !got.Outlets[0].IsOn || got.Outlets[1].IsOn {
		t.Errorf("Outlets = %+v, want only outlet 0 on", got.Outlets)
	}

	if err := registry.SetOutletOn(ctx, "Strip", -1, true); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("SetOutletOn(-1) error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("A"), testDevice("B"), testPowerStrip("Strip"))
	ctx := context.Background()

	if err := registry.SetOnline(ctx, "B", false); err != nil {
		t.Fatalf("SetOnline() error = %v", err)
	}

	stats := registry.GetStats()
	if stats.TotalDevices != 3 || stats.Online != 2 || stats.Offline != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
	if stats.ByType["pc"] != 2 || stats.ByType[PowerStripType] != 1 {
		t.Errorf("ByType = %v", stats.ByType)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry, _ := newLoadedRegistry(t, testDevice("Lab PC"), testPowerStrip("Strip"))
	ctx := context.Background()
	entry := testDevice("Lab PC").Schedule[1]

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func(online bool) {
			defer wg.Done()
			_ = registry.SetOnline(ctx, "Lab PC", online)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = registry.MarkTriggered(ctx, "Lab PC", 1, entry)
		}()
		go func(on bool) {
			defer wg.Done()
			_ = registry.SetOutletOn(ctx, "Strip", 1, on)
			_ = registry.Snapshot()
		}(i%3 == 0)
	}
	wg.Wait()

	got, _ := registry.GetDevice(ctx, "Lab PC")
	if !got.Schedule[1].HasTriggered {
		t.Error("HasTriggered lost under concurrent writers")
	}
}
