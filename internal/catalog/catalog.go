// Package catalog is the append-only relational index of every accepted
// frame and every opened image, backed by a single-file SQLite database via
// the pure-Go modernc.org/sqlite driver (no cgo).
package catalog

import (
	"database/sql"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
	_ "modernc.org/sqlite"

	"github.com/kayserspace/waps-ies-sub000/internal/image"
)

const schema = `
CREATE TABLE IF NOT EXISTS packets (
	packet_uuid             TEXT PRIMARY KEY,
	acquisition_time        DATETIME NOT NULL,
	ccsds_time              DATETIME NOT NULL,
	raw_bytes               BLOB NOT NULL,
	time_tag                INTEGER NOT NULL,
	packet_name             TEXT NOT NULL,
	ec_address              INTEGER NOT NULL,
	generic_tm_id           INTEGER NOT NULL,
	generic_tm_type         INTEGER NOT NULL,
	generic_tm_length       INTEGER NOT NULL,
	image_memory_slot       INTEGER NOT NULL,
	tm_packet_id            INTEGER NOT NULL,
	image_number_of_packets INTEGER NOT NULL,
	data_packet_id          INTEGER NOT NULL,
	data_packet_crc         INTEGER NOT NULL,
	data_packet_size        INTEGER NOT NULL,
	data_packet_verify_code INTEGER NOT NULL,
	good_packet             INTEGER NOT NULL,
	image_id                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	image_uuid          TEXT PRIMARY KEY,
	acquisition_time    DATETIME NOT NULL,
	ccsds_time          DATETIME NOT NULL,
	time_tag            INTEGER NOT NULL,
	image_name          TEXT NOT NULL,
	camera_type         TEXT NOT NULL,
	ec_address          INTEGER NOT NULL,
	ec_position         TEXT NOT NULL,
	memory_slot         INTEGER NOT NULL,
	number_of_packets   INTEGER NOT NULL,
	received_packets    INTEGER NOT NULL,
	overwritten         INTEGER NOT NULL,
	outdated            INTEGER NOT NULL,
	transmission_active INTEGER NOT NULL,
	update_pending      INTEGER NOT NULL,
	latest_image_file   TEXT NOT NULL DEFAULT '',
	latest_data_file    TEXT NOT NULL DEFAULT '',
	latest_tm_file      TEXT NOT NULL DEFAULT '',
	finalization_time   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_packets_image_id ON packets(image_id);
`

// UnassignedImageID is the FK-or-"unassigned" sentinel for a packet row that
// was not accepted into any image (spec.md §4.F).
const UnassignedImageID = "unassigned"

// Store wraps the two catalog relations.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite file at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// PacketRow is one row of the packets relation.
type PacketRow struct {
	PacketUUID           uuid.UUID
	AcquisitionTime      time.Time
	CCSDSTime            time.Time
	RawBytes             []byte
	TimeTag              uint32
	PacketName           string
	ECAddress            byte
	GenericTMID          uint16
	GenericTMType        uint16
	GenericTMLength      uint16
	ImageMemorySlot      int
	TMPacketID           int
	ImageNumberOfPackets int
	DataPacketID         int
	DataPacketCRC        uint16
	DataPacketSize       uint16
	DataPacketVerifyCode uint16
	GoodPacket           bool
	ImageID              string // UnassignedImageID when not bound to an image
}

// InsertPacket records one accepted frame. Duplicate UUIDs are ignored
// rather than erroring (spec.md §4.F's recommended duplicate suppression).
func (s *Store) InsertPacket(row PacketRow) error {
	imageID := row.ImageID
	if imageID == "" {
		imageID = UnassignedImageID
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO packets (
			packet_uuid, acquisition_time, ccsds_time, raw_bytes, time_tag, packet_name,
			ec_address, generic_tm_id, generic_tm_type, generic_tm_length, image_memory_slot,
			tm_packet_id, image_number_of_packets, data_packet_id, data_packet_crc,
			data_packet_size, data_packet_verify_code, good_packet, image_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.PacketUUID.String(), row.AcquisitionTime, row.CCSDSTime, row.RawBytes, row.TimeTag, row.PacketName,
		row.ECAddress, row.GenericTMID, row.GenericTMType, row.GenericTMLength, row.ImageMemorySlot,
		row.TMPacketID, row.ImageNumberOfPackets, row.DataPacketID, row.DataPacketCRC,
		row.DataPacketSize, row.DataPacketVerifyCode, row.GoodPacket, imageID,
	)
	if err != nil {
		return fmt.Errorf("catalog: insert packet %s: %w", row.PacketUUID, err)
	}
	return nil
}

// UpsertImage writes or refreshes one image's reassembly snapshot.
func (s *Store) UpsertImage(img *image.Image, finalizationTime *time.Time) error {
	missing := len(img.MissingFragments(false))
	received := img.ExpectedFragments - missing
	_, err := s.db.Exec(`
		INSERT INTO images (
			image_uuid, acquisition_time, ccsds_time, time_tag, image_name, camera_type,
			ec_address, ec_position, memory_slot, number_of_packets, received_packets,
			overwritten, outdated, transmission_active, update_pending,
			latest_image_file, latest_data_file, latest_tm_file, finalization_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_uuid) DO UPDATE SET
			received_packets=excluded.received_packets,
			overwritten=excluded.overwritten,
			outdated=excluded.outdated,
			transmission_active=excluded.transmission_active,
			update_pending=excluded.update_pending,
			latest_image_file=excluded.latest_image_file,
			latest_data_file=excluded.latest_data_file,
			latest_tm_file=excluded.latest_tm_file,
			finalization_time=COALESCE(excluded.finalization_time, images.finalization_time)`,
		img.ID.String(), img.AcquisitionTime, img.CCSDSTime, img.TimeTag, img.Name, img.CameraType,
		img.ECAddress, img.ECPosition, img.MemorySlot, img.ExpectedFragments, received,
		img.Overwritten, img.Outdated, img.TransmissionActive, img.UpdatePending,
		img.LatestSavedFile, img.LatestSavedFileData, img.LatestSavedFileTM, finalizationTime,
	)
	if err != nil {
		return fmt.Errorf("catalog: upsert image %s: %w", img.Name, err)
	}
	return nil
}
