package models

import (
	"log"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Customer{}, &Location{},
		&SalesOrder{}, &SalesOrderLine{}, &StockMovement{},
		&SyncMapping{}, &SyncRun{}, &SyncError{},
		&CleanupActionLog{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
