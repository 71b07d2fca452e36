// Package device provides the device registry for PowerLogic Core.
//
// The registry is the catalogue of every appliance under power control:
// PCs, projectors and power strips. It owns device identity (names are
// unique case-insensitively) and keeps devices in registration order, which
// is the order the scheduler walks them in.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                       Device Registry                         │
//	│                                                               │
//	│  ┌──────────────────┐    ┌──────────────────┐                 │
//	│  │     Registry     │───▶│    Repository    │                 │
//	│  │ • snapshots      │    │ • SQLite + JSON  │                 │
//	│  │ • narrow setters │    │ • json_set writes│                 │
//	│  └──────────────────┘    └──────────────────┘                 │
//	└──────────────────────────────────────────────────────────────┘
//	     ▲ SetOnline          ▲ MarkTriggered        ▲ SetOutletOn
//	  liveness             scheduler               dispatch
//
// Each mutable field has exactly one writer: IsOnline (liveness monitor),
// ScheduleEntry.HasTriggered (scheduler) and Outlet.IsOn (dispatch).
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	for _, d := range registry.Snapshot() {
//	    fmt.Println(d.Name, d.IsOnline)
//	}
package device
