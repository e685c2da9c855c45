package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/lumacast/lumacast-go/internal/models"
)

const (
	dbFileName  = "devices.db"
	busyTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id           TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	address             TEXT NOT NULL,
	port                INTEGER,
	device_type         TEXT,
	credentials         TEXT,
	last_connected      TIMESTAMP,
	is_active           BOOLEAN DEFAULT 0,
	connection_attempts INTEGER DEFAULT 0,
	created_at          TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_devices_active ON devices(is_active);

CREATE TABLE IF NOT EXISTS sessions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_name     TEXT,
	images_directory TEXT,
	display_time     INTEGER,
	active_devices   TEXT,
	last_updated     TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore persists the catalog in a single SQLite file with WAL enabled
// so the rotation loop and control surface can read concurrently.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	cipher *cipher
}

// OpenSQLite opens (creating if needed) the catalog database inside dataDir.
// The encryption key lives next to the database with owner-only permissions.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	cipher, err := loadOrCreateKey(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dataDir, dbFileName)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	_ = os.Chmod(path, 0600)

	return &SQLiteStore{db: db, path: path, cipher: cipher}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Device(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, name, address, port, device_type, credentials,
		       last_connected, is_active, connection_attempts
		FROM devices WHERE device_id = ?`, id)

	var d models.Device
	var port sql.NullInt64
	var deviceType, credentials sql.NullString
	var lastConnected sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &d.Address, &port, &deviceType,
		&credentials, &lastConnected, &d.IsActive, &d.ConnectionAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query device %s: %w", id, err)
	}
	d.Port = int(port.Int64)
	d.Type = deviceType.String
	d.LastConnected = lastConnected.Time
	if d.Credentials, err = s.cipher.open(credentials.String); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) Devices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, name, address, port, device_type,
		       last_connected, is_active, connection_attempts
		FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var port sql.NullInt64
		var deviceType sql.NullString
		var lastConnected sql.NullTime
		if err := rows.Scan(&d.ID, &d.Name, &d.Address, &port, &deviceType,
			&lastConnected, &d.IsActive, &d.ConnectionAttempts); err != nil {
			return nil, err
		}
		d.Port = int(port.Int64)
		d.Type = deviceType.String
		d.LastConnected = lastConnected.Time
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func (s *SQLiteStore) UpsertDevice(ctx context.Context, d models.Device) error {
	sealed, err := s.cipher.seal(d.Credentials)
	if err != nil {
		return err
	}
	// Preserve existing credentials when the upsert carries none, so a
	// re-scan of a paired device does not wipe its pairing.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, name, address, port, device_type, credentials, last_connected)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			port = excluded.port,
			device_type = excluded.device_type,
			credentials = CASE WHEN excluded.credentials != '' THEN excluded.credentials ELSE devices.credentials END,
			last_connected = excluded.last_connected`,
		d.ID, d.Name, d.Address, d.Port, d.Type, sealed, time.Now())
	if err != nil {
		return fmt.Errorf("store: upsert device %s: %w", d.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveDevice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE device_id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: remove device %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, active bool, attempts int) error {
	var err error
	if attempts >= 0 {
		_, err = s.db.ExecContext(ctx, `
			UPDATE devices SET is_active = ?, connection_attempts = ?, last_connected = ?
			WHERE device_id = ?`, active, attempts, time.Now(), id)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE devices SET is_active = ?, last_connected = ?
			WHERE device_id = ?`, active, time.Now(), id)
	}
	if err != nil {
		return fmt.Errorf("store: update status %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCredentials(ctx context.Context, id, credentials string) error {
	sealed, err := s.cipher.seal(credentials)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE devices SET credentials = ? WHERE device_id = ?`, sealed, id)
	if err != nil {
		return fmt.Errorf("store: update credentials %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, rec models.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_name, images_directory, display_time, active_devices, last_updated)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Name, rec.ImagesDirectory, rec.DisplayTime, strings.Join(rec.DeviceIDs, ","), time.Now())
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastSession(ctx context.Context) (*models.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_name, images_directory, display_time, active_devices
		FROM sessions ORDER BY last_updated DESC, id DESC LIMIT 1`)

	var rec models.SessionRecord
	var devices string
	err := row.Scan(&rec.Name, &rec.ImagesDirectory, &rec.DisplayTime, &devices)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: query last session: %w", err)
	}
	if devices != "" {
		rec.DeviceIDs = strings.Split(devices, ",")
	}
	return &rec, nil
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
