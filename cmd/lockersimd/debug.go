package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
)

// inodeSnapshot is the JSON shape cmd/lockerctl decodes for `lockerctl inode list`.
type inodeSnapshot struct {
	ID              uint64   `json:"id"`
	Authority       string   `json:"authority"`
	HardState       string   `json:"hard_state"`
	FileState       string   `json:"file_state"`
	FileDataVersion uint64   `json:"file_data_version"`
	Clients         []string `json:"clients"`
}

// dentrySnapshot is the JSON shape cmd/lockerctl decodes for `lockerctl dentry list`.
type dentrySnapshot struct {
	ID        string `json:"id"`
	Authority string `json:"authority"`
	State     string `json:"state"`
	Xlocker   string `json:"xlocker"`
	Null      bool   `json:"null"`
}

// debugServer exposes a running cluster's cache contents over a local HTTP
// listener, in the spirit of dfsctl attaching to a live dittofs server —
// here the "server" is the in-process simulation itself.
type debugServer struct {
	cache cacheReader
}

// cacheReader is the read surface debugServer needs; satisfied by
// *memcache.Cache. Declared locally so debug.go doesn't need to import the
// memcache package's full Cache type just to read it back.
type cacheReader interface {
	Inodes() []*locker.Inode
	Dentries() []*locker.Dentry
}

func newDebugServer(c cacheReader) *http.ServeMux {
	ds := &debugServer{cache: c}
	mux := http.NewServeMux()
	mux.HandleFunc("/inodes", ds.handleInodes)
	mux.HandleFunc("/dentries", ds.handleDentries)
	return mux
}

// requestID returns the caller's X-Request-Id, or mints one so every debug
// access still has a correlation id to log against.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}

func (ds *debugServer) handleInodes(w http.ResponseWriter, r *http.Request) {
	logger.Debug("debug inodes request", logger.RequestID(requestID(r)))
	inodes := ds.cache.Inodes()
	snaps := make([]inodeSnapshot, 0, len(inodes))
	for _, in := range inodes {
		clients := make([]string, 0, len(in.Caps))
		for c := range in.Caps {
			clients = append(clients, string(c))
		}
		sort.Strings(clients)
		snaps = append(snaps, inodeSnapshot{
			ID:              uint64(in.ID),
			Authority:       string(in.Authority),
			HardState:       in.Hard.State.String(),
			FileState:       in.File.State.String(),
			FileDataVersion: in.FileDataVersion,
			Clients:         clients,
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	writeJSON(w, snaps)
}

func (ds *debugServer) handleDentries(w http.ResponseWriter, r *http.Request) {
	logger.Debug("debug dentries request", logger.RequestID(requestID(r)))
	dentries := ds.cache.Dentries()
	snaps := make([]dentrySnapshot, 0, len(dentries))
	for _, d := range dentries {
		snaps = append(snaps, dentrySnapshot{
			ID:        d.ID.String(),
			Authority: string(d.Authority),
			State:     d.Lock.State.String(),
			Xlocker:   d.Lock.Xlocker,
			Null:      d.Null,
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	writeJSON(w, snaps)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode debug response", logger.Err(err))
	}
}

// serveDebug starts the debug listener and blocks until ctx is canceled.
func serveDebug(ctx context.Context, addr string, c cacheReader) error {
	srv := &http.Server{Addr: addr, Handler: newDebugServer(c)}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("debug listener started", "addr", addr)

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
