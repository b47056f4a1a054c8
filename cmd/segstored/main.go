/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command segstored is the server binary: it owns a store.Store's
// lifecycle (load, recover, run background loops) and exposes it over
// the rpc package's HTTP/JSON + websocket surface. Recovery always
// finishes before the listener opens (SPEC_FULL §C item 5: "recovery
// walks tables depth-first before any segment is served").
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segcolumn/segstore/config"
	"github.com/segcolumn/segstore/internal/log"
	"github.com/segcolumn/segstore/rpc"
	"github.com/segcolumn/segstore/store"
)

var logger = log.For("main")

func main() {
	fmt.Print(`segstore Copyright (C) 2025-2026  MemCP Contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	configPath := flag.String("config", "config.json", "path to the server config file")
	listenAddr := flag.String("listen", ":8089", "address the RPC surface listens on")
	flag.Parse()

	watcher, err := config.Watch(*configPath)
	if err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
	defer watcher.Close()

	cfg := watcher.Current()
	st, err := store.Load(cfg.Dir, cfg.StoreOptions)
	if err != nil {
		logger.Printf("fatal: load %s: %v", cfg.Dir, err)
		os.Exit(1)
	}

	recovered, err := st.RecoverAll()
	if err != nil {
		logger.Printf("fatal: recovery: %v", err)
		os.Exit(1)
	}
	logger.Printf("recovered %d segment(s) from %s", len(recovered), cfg.Dir)

	loops := st.StartBackgroundLoops(cfg.CompactionLoopInterval)
	defer loops.Stop()

	srv := &http.Server{Addr: *listenAddr, Handler: rpc.NewServer(st).Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("rpc server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logger.Printf("segstore ready, dir=%s, listen=%s", cfg.Dir, *listenAddr)
	<-sig
	logger.Printf("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
