package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DeviceStore holds the transport's device key material. Every tenant owns
// at most one device row, located through the JID kept in its credentials.
type DeviceStore struct {
	db        *sql.DB
	container *sqlstore.Container
	log       waLog.Logger
}

// NewDeviceStore opens (or creates) the sqlite database at dbPath.
func NewDeviceStore(ctx context.Context, dbPath string, log waLog.Logger) (*DeviceStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", log.Sub("whatsmeow"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsmeow schema: %w", err)
	}

	return &DeviceStore{
		db:        db,
		container: container,
		log:       log.Sub("Devices"),
	}, nil
}

// Device returns the device paired under jid, or a fresh unpaired device when
// jid is empty, malformed or unknown.
func (s *DeviceStore) Device(ctx context.Context, jid string) (*store.Device, error) {
	if jid == "" {
		return s.container.NewDevice(), nil
	}

	parsed, err := types.ParseJID(jid)
	if err != nil {
		s.log.Warnf("Ignoring malformed device JID %q: %v", jid, err)
		return s.container.NewDevice(), nil
	}

	device, err := s.container.GetDevice(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		s.log.Infof("Device %s not found, starting a new pairing", parsed)
		return s.container.NewDevice(), nil
	}
	return device, nil
}

// Delete removes the device row for jid. Unknown JIDs are not an error.
func (s *DeviceStore) Delete(ctx context.Context, jid string) error {
	if jid == "" {
		return nil
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil
	}

	device, err := s.container.GetDevice(ctx, parsed)
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		return nil
	}
	if err := device.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *DeviceStore) Close() error {
	return s.db.Close()
}
