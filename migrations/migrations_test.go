package migrations_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/okian/spotted/migrations"
	. "github.com/smartystreets/goconvey/convey"
	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	Convey("Given an empty sqlite database", t, func() {
		db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
		So(err, ShouldBeNil)
		defer func() { _ = db.Close() }()

		Convey("When migrations run twice", func() {
			So(migrations.Run(db, migrations.SQLite), ShouldBeNil)
			So(migrations.Run(db, migrations.SQLite), ShouldBeNil)

			Convey("Then the leaderboard table exists", func() {
				var n int
				err := db.QueryRow(`SELECT COUNT(*) FROM leaderboard`).Scan(&n)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 0)
			})
		})

		Convey("When an unknown dialect is requested", func() {
			So(migrations.Run(db, "mysql"), ShouldNotBeNil)
		})
	})
}
