// Package config provides configuration management for the reconciler.
//
// It loads a .env file if present and reads environment variables through Viper.
// Defaults come from the `default` struct tags of each section, registered by
// reflection so every key is known to AutomaticEnv.
//
// # Configuration Structure
//
//   - Storage: S3/MinIO endpoint, credentials and bucket (STORAGE_*)
//   - Bus: broker driver, exchanges and routing keys (BUS_*)
//   - Reconcile: marker prefix, schedule, failure log, workers (RECONCILE_*)
//   - Extract: external extractor command (EXTRACT_*)
//   - Log: level and format (LOG_*)
//   - Database: optional cycle history store (DATABASE_*)
//   - Server: optional status server (SERVER_*)
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Storage.Bucket)
package config
