package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// Names are matched case-insensitively.
type Repository interface {
	// GetByName retrieves a device by name.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByName(ctx context.Context, name string) (*Device, error)

	// List retrieves all devices in registration order.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the name is already taken.
	Create(ctx context.Context, device *Device) error

	// Update replaces an existing device's record.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by name.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, name string) error

	// UpdateOnline writes only the online flag.
	UpdateOnline(ctx context.Context, name string, online bool) error

	// UpdateTriggered latches HasTriggered on the schedule entry at index,
	// provided it is still the one-time entry given.
	UpdateTriggered(ctx context.Context, name string, index int, entry ScheduleEntry) error

	// UpdateOutletOn writes only one outlet's IsOn flag.
	UpdateOutletOn(ctx context.Context, name string, index int, on bool) error
}

// SQLiteRepository implements Repository using SQLite.
//
// Commands, dependencies, schedule and outlets are stored as JSON columns.
// The single-field updates use json_set so concurrent writers of different
// fields never overwrite each other's columns.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `name, type, address, is_online, commands, dependencies,
	schedule, outlets, created_at, updated_at`

// GetByName retrieves a device by name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE name = ?`, name)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return d, nil
}

// List retrieves all devices in registration order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	cols, err := marshalColumns(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.Name,
		device.Type,
		device.Address,
		boolToInt(device.IsOnline),
		cols.commands,
		cols.dependencies,
		cols.schedule,
		cols.outlets,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update replaces an existing device's record. The online flag is owned by
// the liveness monitor and is not written here.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	cols, err := marshalColumns(device)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, address = ?, commands = ?, dependencies = ?,
			schedule = ?, outlets = ?, updated_at = ?
		WHERE name = ?`,
		device.Name,
		device.Type,
		device.Address,
		cols.commands,
		cols.dependencies,
		cols.schedule,
		cols.outlets,
		device.UpdatedAt.Format(time.RFC3339),
		device.Name,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return expectOneRow(result)
}

// Delete removes a device by name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result)
}

// UpdateOnline writes only the online flag.
func (r *SQLiteRepository) UpdateOnline(ctx context.Context, name string, online bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_online = ?, updated_at = ? WHERE name = ?`,
		boolToInt(online),
		time.Now().UTC().Format(time.RFC3339),
		name,
	)
	if err != nil {
		return fmt.Errorf("updating device online flag: %w", err)
	}
	return expectOneRow(result)
}

// UpdateTriggered latches HasTriggered on one schedule entry. The row is only
// written while the entry at index still has entry's action and instant.
func (r *SQLiteRepository) UpdateTriggered(ctx context.Context, name string, index int, entry ScheduleEntry) error {
	if index < 0 {
		return ErrIndexOutOfRange
	}
	base := fmt.Sprintf("$[%d]", index)
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET schedule = json_set(schedule, ?, json('true')), updated_at = ?
		WHERE name = ? AND ? < json_array_length(schedule)
			AND json_extract(schedule, ?) = ?
			AND json_extract(schedule, ?) = ?
			AND coalesce(json_array_length(schedule, ?), 0) = 0`,
		base+".has_triggered",
		time.Now().UTC().Format(time.RFC3339),
		name,
		index,
		base+".action", string(entry.Action),
		base+".one_time_utc", entry.OneTimeUTC,
		base+".days",
	)
	if err != nil {
		return fmt.Errorf("updating schedule entry: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var length int
	err = r.db.QueryRowContext(ctx, "SELECT json_array_length(schedule) FROM devices WHERE name = ?", name).Scan(&length)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("checking schedule length: %w", err)
	}
	if index >= length {
		return ErrIndexOutOfRange
	}
	return ErrEntryChanged
}

// UpdateOutletOn writes only one outlet's IsOn flag.
func (r *SQLiteRepository) UpdateOutletOn(ctx context.Context, name string, index int, on bool) error {
	if index < 0 {
		return ErrIndexOutOfRange
	}
	path := fmt.Sprintf("$[%d].is_on", index)
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET outlets = json_set(outlets, ?, json(?)), updated_at = ?
		WHERE name = ? AND ? < json_array_length(outlets)`,
		path,
		jsonBool(on),
		time.Now().UTC().Format(time.RFC3339),
		name,
		index,
	)
	if err != nil {
		return fmt.Errorf("updating outlet: %w", err)
	}
	return r.expectIndexedRow(ctx, result, name)
}

// expectIndexedRow distinguishes a missing device from a bad index when an
// indexed update touched nothing.
func (r *SQLiteRepository) expectIndexedRow(ctx context.Context, result sql.Result, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE name = ?", name).Scan(&count); err != nil {
		return fmt.Errorf("checking device exists: %w", err)
	}
	if count == 0 {
		return ErrDeviceNotFound
	}
	return ErrIndexOutOfRange
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type jsonColumns struct {
	commands, dependencies, schedule, outlets string
}

func marshalColumns(d *Device) (jsonColumns, error) {
	var cols jsonColumns

	commands := d.Commands
	if commands == nil {
		commands = map[CommandKey]string{}
	}
	b, err := json.Marshal(commands)
	if err != nil {
		return cols, fmt.Errorf("marshalling commands: %w", err)
	}
	cols.commands = string(b)

	if cols.dependencies, err = marshalSlice(d.Dependencies); err != nil {
		return cols, fmt.Errorf("marshalling dependencies: %w", err)
	}
	if cols.schedule, err = marshalSlice(d.Schedule); err != nil {
		return cols, fmt.Errorf("marshalling schedule: %w", err)
	}
	if cols.outlets, err = marshalSlice(d.Outlets); err != nil {
		return cols, fmt.Errorf("marshalling outlets: %w", err)
	}
	return cols, nil
}

// marshalSlice encodes a nil slice as [] so json_array_length works.
func marshalSlice[T any](s []T) (string, error) {
	if s == nil {
		s = []T{}
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var online int
	var commandsJSON, depsJSON, scheduleJSON, outletsJSON string
	var createdAt, updatedAt string

	if err := scanner.Scan(
		&d.Name,
		&d.Type,
		&d.Address,
		&online,
		&commandsJSON,
		&depsJSON,
		&scheduleJSON,
		&outletsJSON,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	d.IsOnline = online != 0

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if err := json.Unmarshal([]byte(commandsJSON), &d.Commands); err != nil {
		return nil, fmt.Errorf("unmarshalling commands: %w", err)
	}
	if len(d.Commands) == 0 {
		d.Commands = nil
	}
	if err := unmarshalSlice(depsJSON, &d.Dependencies); err != nil {
		return nil, fmt.Errorf("unmarshalling dependencies: %w", err)
	}
	if err := unmarshalSlice(scheduleJSON, &d.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshalling schedule: %w", err)
	}
	if err := unmarshalSlice(outletsJSON, &d.Outlets); err != nil {
		return nil, fmt.Errorf("unmarshalling outlets: %w", err)
	}

	return &d, nil
}

// unmarshalSlice leaves the destination nil for an empty array.
func unmarshalSlice[T any](data string, dst *[]T) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return err
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
