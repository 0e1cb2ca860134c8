package eventlog

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE event(
			id INTEGER PRIMARY KEY,
			time INT NOT NULL,
			frame_id TEXT NOT NULL,
			action TEXT NOT NULL,
			source TEXT,
			category_id TEXT,
			box TEXT
		);
		CREATE INDEX idx_event_frame_id ON event (frame_id);
	`))

	return migs
}
