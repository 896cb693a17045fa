package main

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/ngmend/ngmend/internal/db"
)

const stateDirName = ".ngmend"

func openDB() (*sql.DB, string, func(), error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, "", func() {}, err
	}
	stateDir := filepath.Join(projectRoot, stateDirName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, "", func() {}, err
	}
	storeDB, err := db.Open(filepath.Join(stateDir, "ngmend.db"))
	if err != nil {
		return nil, "", func() {}, err
	}
	return storeDB, projectRoot, func() { _ = storeDB.Close() }, nil
}
