// Package services contains the application services of the GardenKeeper
// client: the DataManager facade over the local store, the SyncEngine that
// delivers queued mutations to the remote authority, and the BackupService.
//
// The services are explicitly constructed and wired by the caller:
//
//	dm := services.NewDataManager(registry, store, logger)
//	engine := services.NewSyncEngine(cfg, remote, queue, conflicts, meta, dm, logger)
//	dm.SetSyncer(engine)
//
// None of them is safe for use by several processes sharing one database.
package services
