package device

import (
	"context"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory device collection backed by a Repository.
//
// Devices are kept in registration order and indexed by case-insensitive
// name. Readers receive deep copies. Writers go through CRUD operations or
// one of the three single-field setters (SetOnline, MarkTriggered,
// SetOutletOn), each of which persists before updating the cache.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	order   []string           // name keys in registration order
	cache   map[string]*Device // by name key
	cacheMu sync.RWMutex       // protects order and cache
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.order = make([]string, 0, len(devices))
	for i := range devices {
		key := NameKey(devices[i].Name)
		if _, dup := r.cache[key]; dup {
			r.logger.Warn("duplicate device name in store, keeping first", "name", devices[i].Name)
			continue
		}
		r.cache[key] = devices[i].DeepCopy()
		r.order = append(r.order, key)
	}

	r.logger.Info("device cache refreshed", "count", len(r.order))
	return nil
}

// Snapshot returns deep copies of every device in registration order.
// Devices added or removed afterwards do not affect the returned slice.
func (r *Registry) Snapshot() []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.order))
	for _, key := range r.order {
		devices = append(devices, *r.cache[key].DeepCopy())
	}
	return devices
}

// GetDevice retrieves a device by name, case-insensitively.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(_ context.Context, name string) (*Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.cache[NameKey(name)]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return cached.DeepCopy(), nil
}

// CreateDevice validates and persists a new device and appends it to the
// registration order. New devices start online until the liveness monitor
// says otherwise.
func (r *Registry) CreateDevice(ctx context.Context, device *Device) error {
	Normalise(device)
	if err := ValidateDevice(device); err != nil {
		return err
	}

	key := NameKey(device.Name)

	r.cacheMu.RLock()
	_, exists := r.cache[key]
	r.cacheMu.RUnlock()
	if exists {
		return ErrDeviceExists
	}

	device.IsOnline = true
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if _, raced := r.cache[key]; !raced {
		r.order = append(r.order, key)
	}
	r.cache[key] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "name", device.Name, "type", device.Type)
	return nil
}

// UpdateDevice replaces a device's configuration. The name selects the
// device and cannot change except in letter case. IsOnline is preserved
// from the registry because it belongs to the liveness monitor.
func (r *Registry) UpdateDevice(ctx context.Context, device *Device) error {
	Normalise(device)
	if err := ValidateDevice(device); err != nil {
		return err
	}

	key := NameKey(device.Name)

	r.cacheMu.RLock()
	existing, ok := r.cache[key]
	if ok {
		device.IsOnline = existing.IsOnline
		device.CreatedAt = existing.CreatedAt
	}
	r.cacheMu.RUnlock()
	if !ok {
		return ErrDeviceNotFound
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[key]; ok {
		updated := device.DeepCopy()
		updated.IsOnline = cached.IsOnline
		r.cache[key] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Info("device updated", "name", device.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, name string) error {
	if err := r.repo.Delete(ctx, name); err != nil {
		return err
	}

	key := NameKey(name)
	r.cacheMu.Lock()
	delete(r.cache, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "name", name)
	return nil
}

// SetOnline writes a device's online flag.
func (r *Registry) SetOnline(ctx context.Context, name string, online bool) error {
	if err := r.repo.UpdateOnline(ctx, name, online); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[NameKey(name)]; ok {
		cached.IsOnline = online
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device online flag updated", "name", name, "online", online)
	return nil
}

// MarkTriggered latches HasTriggered on a one-time schedule entry.
//
// index is the entry's position when it came due. If the schedule has been
// edited since, the entry is found again by its action and instant; when it
// is gone ErrEntryChanged is returned and nothing is written.
func (r *Registry) MarkTriggered(ctx context.Context, name string, index int, entry ScheduleEntry) error {
	if !entry.IsOneTime() {
		return fmt.Errorf("%w: entry %d is weekly", ErrEntryChanged, index)
	}

	at, err := r.locateOneTime(name, index, entry)
	if err != nil {
		return err
	}
	if err := r.repo.UpdateTriggered(ctx, name, at, entry); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[NameKey(name)]; ok && at < len(cached.Schedule) && cached.Schedule[at].SameOneTime(entry) {
		cached.Schedule[at].HasTriggered = true
	}
	r.cacheMu.Unlock()

	if at != index {
		r.logger.Info("schedule entry moved before it was latched", "name", name, "from", index, "to", at)
	}
	r.logger.Debug("schedule entry triggered", "name", name, "index", at)
	return nil
}

// locateOneTime returns the current index of entry, preferring the given one
// and then the first untriggered match.
func (r *Registry) locateOneTime(name string, index int, entry ScheduleEntry) (int, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.cache[NameKey(name)]
	if !ok {
		return 0, ErrDeviceNotFound
	}
	if index >= 0 && index < len(cached.Schedule) && cached.Schedule[index].SameOneTime(entry) {
		return index, nil
	}

	found := -1
	for i, e := range cached.Schedule {
		if !e.SameOneTime(entry) {
			continue
		}
		if !e.HasTriggered {
			return i, nil
		}
		if found < 0 {
			found = i
		}
	}
	if found >= 0 {
		return found, nil
	}

	if index < 0 || index >= len(cached.Schedule) {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return 0, fmt.Errorf("%w: %s at %s", ErrEntryChanged, entry.Action, entry.OneTimeUTC)
}

// SetOutletOn writes one outlet's on flag.
func (r *Registry) SetOutletOn(ctx context.Context, name string, index int, on bool) error {
	if err := r.checkIndex(name, index, func(d *Device) int { return len(d.Outlets) }); err != nil {
		return err
	}
	if err := r.repo.UpdateOutletOn(ctx, name, index, on); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[NameKey(name)]; ok && index < len(cached.Outlets) {
		cached.Outlets[index].IsOn = on
	}
	r.cacheMu.Unlock()

	r.logger.Debug("outlet state updated", "name", name, "outlet", index, "on", on)
	return nil
}

func (r *Registry) checkIndex(name string, index int, length func(*Device) int) error {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.cache[NameKey(name)]
	if !ok {
		return ErrDeviceNotFound
	}
	if index < 0 || index >= length(cached) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return nil
}

// GetDeviceCount returns the number of registered devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.order)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	Online       int            `json:"online"`
	Offline      int            `json:"offline"`
	ByType       map[string]int `json:"by_type"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.order),
		ByType:       make(map[string]int),
	}

	for _, d := range r.cache {
		if d.IsOnline {
			stats.Online++
		} else {
			stats.Offline++
		}
		stats.ByType[d.Type]++
	}

	return stats
}
