// Package database opens the optional GORM connection used to persist
// reconciliation cycle history.
//
// MySQL is the default driver; sqlite stores history in a local file for
// single-node deployments.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    logg.Warn("Cycle history disabled", zap.Error(err))
//	}
package database
