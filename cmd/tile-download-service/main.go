package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoyee/slippytile/internal/calculator"
	"github.com/geoyee/slippytile/internal/config"
	"github.com/geoyee/slippytile/internal/download"
	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
	"github.com/geoyee/slippytile/internal/storage"
)

const maxEventLog = 1000

// TileView is the JSON form of a finished tile.
type TileView struct {
	Zoom      uint8      `json:"zoom"`
	X         uint32     `json:"x"`
	Y         uint32     `json:"y"`
	Size      uint32     `json:"size"`
	Status    string     `json:"status"`
	Path      string     `json:"path,omitempty"`
	Error     string     `json:"error,omitempty"`
	FromCache bool       `json:"from_cache,omitempty"`
	Refreshed bool       `json:"refreshed,omitempty"`
	Bounds    [4]float64 `json:"bounds"`
	Time      time.Time  `json:"time"`
}

// EventView is a TileView with its position in the event log.
type EventView struct {
	Seq int64 `json:"seq"`
	TileView
}

func newTileView(ev model.Event) TileView {
	v := TileView{
		Zoom:      uint8(ev.Key.Zoom),
		X:         ev.Key.Coordinates.X,
		Y:         ev.Key.Coordinates.Y,
		Size:      ev.Key.Size.Pixels(),
		Status:    ev.Kind.String(),
		Path:      ev.Path,
		FromCache: ev.FromCache,
		Refreshed: ev.Refreshed,
		Bounds:    [4]float64{ev.Bound.Min.Lon(), ev.Bound.Min.Lat(), ev.Bound.Max.Lon(), ev.Bound.Max.Lat()},
		Time:      ev.Time,
	}
	if ev.Err != nil {
		v.Error = ev.Err.Error()
	}
	return v
}

// TileLog keeps the latest state of every tile and a bounded log of events.
// It is fed by the downloader's tick goroutine and read by HTTP handlers.
type TileLog struct {
	mu     sync.RWMutex
	tiles  map[model.TileKey]TileView
	events []EventView
	seq    int64
}

func NewTileLog() *TileLog {
	return &TileLog{tiles: make(map[model.TileKey]TileView)}
}

// Record stores ev. It is the sink passed to Downloader.Run.
func (tl *TileLog) Record(ev model.Event) {
	view := newTileView(ev)

	tl.mu.Lock()
	defer tl.mu.Unlock()

	// A failed refresh does not hide the tile that is still on disk.
	if prev, ok := tl.tiles[ev.Key]; !(ok && prev.Status == model.EventDownloaded.String() && ev.Kind == model.EventFailed) {
		tl.tiles[ev.Key] = view
	}
	tl.seq++
	tl.events = append(tl.events, EventView{Seq: tl.seq, TileView: view})
	if len(tl.events) > maxEventLog {
		tl.events = slices.Clone(tl.events[len(tl.events)-maxEventLog:])
	}
}

func (tl *TileLog) Get(key model.TileKey) (TileView, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	v, ok := tl.tiles[key]
	return v, ok
}

// List returns all tiles ordered by zoom, x, y and size.
func (tl *TileLog) List() []TileView {
	tl.mu.RLock()
	views := make([]TileView, 0, len(tl.tiles))
	for _, v := range tl.tiles {
		views = append(views, v)
	}
	tl.mu.RUnlock()

	slices.SortFunc(views, func(a, b TileView) int {
		for _, c := range [...]int{
			cmp.Compare(a.Zoom, b.Zoom),
			cmp.Compare(a.X, b.X),
			cmp.Compare(a.Y, b.Y),
			cmp.Compare(a.Size, b.Size),
		} {
			if c != 0 {
				return c
			}
		}
		return 0
	})
	return views
}

// Since returns the logged events with a sequence number above seq.
func (tl *TileLog) Since(seq int64) []EventView {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	i, _ := slices.BinarySearchFunc(tl.events, seq+1, func(e EventView, target int64) int {
		return int(e.Seq - target)
	})
	return slices.Clone(tl.events[i:])
}

// DownloadRequest asks for a region around either a geographic point or a tile.
type DownloadRequest struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	X         *uint32  `json:"x,omitempty"`
	Y         *uint32  `json:"y,omitempty"`
	Zoom      int      `json:"zoom"`
	Radius    int      `json:"radius,omitempty"`
	Size      int      `json:"size,omitempty"`
	UseCache  *bool    `json:"use_cache,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
}

// ToRegionRequest validates r and fills in defaults.
func (r *DownloadRequest) ToRegionRequest() (model.RegionRequest, error) {
	zoom, err := model.ParseZoomLevel(r.Zoom)
	if err != nil {
		return model.RegionRequest{}, err
	}
	if r.Radius < 0 || r.Radius > 255 {
		return model.RegionRequest{}, fmt.Errorf("radius %d out of range (0-255)", r.Radius)
	}

	var center model.Location
	switch {
	case r.X != nil && r.Y != nil:
		center = model.TileCoordinates{X: *r.X, Y: *r.Y}
	case r.Latitude != nil && r.Longitude != nil:
		if err := calculator.ValidateGeo(*r.Latitude, *r.Longitude); err != nil {
			return model.RegionRequest{}, err
		}
		center = model.GeoCoordinates{Latitude: *r.Latitude, Longitude: *r.Longitude}
	default:
		return model.RegionRequest{}, errors.New("latitude/longitude or x/y is required")
	}

	useCache := true
	if r.UseCache != nil {
		useCache = *r.UseCache
	}
	return model.RegionRequest{
		Size:     model.NewTileSize(r.Size),
		Zoom:     zoom,
		Center:   center,
		Radius:   model.Radius(r.Radius),
		UseCache: useCache,
		Endpoint: r.Endpoint,
	}, nil
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Downloader is the part of download.Downloader the HTTP handlers use; all of
// these methods are safe to call from handler goroutines.
type Downloader interface {
	Request(model.RegionRequest)
	Stats() model.DownloadStats
	ErrorStats() map[string]int
	Completed(model.TileKey) (*model.TileInfo, bool)
	ReadTile(model.TileKey) ([]byte, error)
}

type Server struct {
	downloader     Downloader
	tiles          *TileLog
	port           int
	allowedOrigins []string
	logger         logger.Logger
}

func NewServer(port int, allowedOrigins []string, downloader Downloader, log logger.Logger) *Server {
	return &Server{
		downloader:     downloader,
		tiles:          NewTileLog(),
		port:           port,
		allowedOrigins: allowedOrigins,
		logger:         log.WithComponent("server"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/download", s.handleDownload)
	mux.HandleFunc("/api/tiles", s.handleTiles)
	mux.HandleFunc("/api/tiles/data", s.handleTileData)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/stats", s.handleStats)
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case slices.Contains(s.allowedOrigins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.allowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warnw("failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, APIResponse{Success: false, Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    map[string]string{"status": "healthy", "time": time.Now().Format(time.RFC3339)},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	region, err := req.ToRegionRequest()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.downloader.Request(region)
	s.logger.Infow("region requested", "zoom", region.Zoom, "radius", region.Radius, "use_cache", region.UseCache)

	s.respondJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Download request queued",
		Data:    map[string]int{"tiles": region.Radius.TileCount()},
	})
}

// handleTiles lists known tiles, or looks one up when z, x and y are given.
func (s *Server) handleTiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	if !q.Has("z") && !q.Has("x") && !q.Has("y") {
		s.respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.tiles.List()})
		return
	}

	key, err := parseTileKey(q.Get("z"), q.Get("x"), q.Get("y"), q.Get("size"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if view, ok := s.tiles.Get(key); ok {
		s.respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: view})
		return
	}
	if info, ok := s.downloader.Completed(key); ok {
		s.respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
		return
	}
	s.respondError(w, http.StatusNotFound, "Tile not found")
}

// handleTileData serves the stored image of one tile.
func (s *Server) handleTileData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	key, err := parseTileKey(q.Get("z"), q.Get("x"), q.Get("y"), q.Get("size"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.downloader.ReadTile(key)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "Tile not found")
		return
	}
	if err != nil {
		s.logger.Errorw("failed to read tile", "tile", key.String(), "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read tile")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("failed to write tile", "tile", key.String(), "error", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since must be an integer")
			return
		}
		since = n
	}
	s.respondJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.tiles.Since(since)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	st := s.downloader.Stats()
	s.respondJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"requested":   st.Requested,
			"success":     st.Success,
			"failed":      st.Failed,
			"cache_hits":  st.CacheHits,
			"deduped":     st.Deduped,
			"buffered":    st.Buffered,
			"retries":     st.Retries,
			"bytes_total": st.BytesTotal,
			"active":      st.Active,
			"start_time":  st.StartTime,
			"uptime":      time.Since(st.StartTime).Round(time.Second).String(),
			"errors":      s.downloader.ErrorStats(),
		},
	})
}

func parseTileKey(z, x, y, size string) (model.TileKey, error) {
	zi, err := strconv.Atoi(z)
	if err != nil {
		return model.TileKey{}, fmt.Errorf("invalid z %q", z)
	}
	zoom, err := model.ParseZoomLevel(zi)
	if err != nil {
		return model.TileKey{}, err
	}
	xi, err := strconv.ParseUint(x, 10, 32)
	if err != nil {
		return model.TileKey{}, fmt.Errorf("invalid x %q", x)
	}
	yi, err := strconv.ParseUint(y, 10, 32)
	if err != nil {
		return model.TileKey{}, fmt.Errorf("invalid y %q", y)
	}
	px := 256
	if size != "" {
		if px, err = strconv.Atoi(size); err != nil {
			return model.TileKey{}, fmt.Errorf("invalid size %q", size)
		}
	}
	return model.TileKey{
		Coordinates: model.TileCoordinates{X: uint32(xi), Y: uint32(yi)},
		Zoom:        zoom,
		Size:        model.NewTileSize(px),
	}, nil
}

type serveOptions struct {
	port       int
	origins    []string
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:          "tile-download-service",
		Short:        "Serve tile download requests over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", 8090, "Listen port")
	cmd.Flags().StringSliceVar(&opts.origins, "origins", []string{"*"}, "Allowed CORS origins")
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "YAML settings file")
	cmd.Flags().StringVar(&opts.envFile, "env", ".env", "Environment file")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	settings, err := config.Load(opts.configFile, opts.envFile)
	if err != nil {
		return err
	}
	log := logger.NewStdLogger(settings.LogLevel)

	d, err := download.NewFromSettings(settings, log)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := NewServer(opts.port, opts.origins, d, log)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		d.Run(ctx, settings.TickInterval, server.tiles.Record)
	}()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Infow("tile download service starting", "addr", httpServer.Addr, "endpoint", settings.Endpoint)
	err = httpServer.ListenAndServe()
	stop()
	<-runDone
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
