package main

import (
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/spotted/migrations"
)

func TestMigrate(t *testing.T) {
	Convey("Given an empty sqlite database", t, func() {
		db, err := open(migrations.SQLite, filepath.Join(t.TempDir(), "m.db"))
		So(err, ShouldBeNil)
		Reset(func() { _ = db.Close() })

		Convey("When migrated up", func() {
			So(migrate(db, migrations.SQLite, "up"), ShouldBeNil)

			Convey("Then the leaderboard table exists", func() {
				_, err := db.Exec(`INSERT INTO leaderboard (user_id, points, created_at, updated_at) VALUES ('U1', 1, 'now', 'now')`)
				So(err, ShouldBeNil)

				v, err := goose.GetDBVersion(db)
				So(err, ShouldBeNil)
				So(v, ShouldBeGreaterThan, 0)
			})

			Convey("Then reset drops it again", func() {
				So(migrate(db, migrations.SQLite, "reset"), ShouldBeNil)
				_, err := db.Exec(`SELECT 1 FROM leaderboard`)
				So(err, ShouldNotBeNil)
			})
		})

		Convey("Unknown commands and drivers are rejected", func() {
			So(migrate(db, migrations.SQLite, "sideways"), ShouldNotBeNil)
			_, err := open("mysql", "x")
			So(err, ShouldNotBeNil)
		})
	})
}
