package migrations

import (
	"embed"
	"io/fs"
)

// Files exposes embedded SQL migration files, one directory per database driver.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Postgres returns the migrations for the postgres driver ordered lexicographically.
func Postgres() fs.FS {
	return sub("postgres")
}

// SQLite returns the migrations for the sqlite driver.
func SQLite() fs.FS {
	return sub("sqlite")
}

func sub(dir string) fs.FS {
	f, err := fs.Sub(Files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
