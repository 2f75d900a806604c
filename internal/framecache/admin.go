package framecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts the /debug/ pages for store on mux. A SQLite
// store also gets a tailsql live query view of the cache table.
func AttachAdminRoutes(mux *http.ServeMux, store Store) error {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Cached frames", func() any {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := store.Len(ctx)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return n
	})
	debug.KV("Cache backend", BackendName(store))

	sqliteStore, ok := store.(*SQLiteStore)
	if !ok {
		return nil
	}

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+sqliteStore.Path(), sqliteStore.DB(), &tailsql.DBOptions{
		Label: "Frame cache",
	})
	debug.Handle("tailsql/", "SQL live debugging of the frame cache", tsql.NewMux())
	return nil
}

// BackendName names the store implementation for status output.
func BackendName(store Store) string {
	switch store.(type) {
	case *MemoryStore:
		return BackendMemory
	case *SQLiteStore:
		return BackendSQLite
	case *RedisStore:
		return BackendRedis
	default:
		return fmt.Sprintf("%T", store)
	}
}
