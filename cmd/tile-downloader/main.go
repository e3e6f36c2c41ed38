package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoyee/slippytile/internal/calculator"
	"github.com/geoyee/slippytile/internal/config"
	"github.com/geoyee/slippytile/internal/download"
	"github.com/geoyee/slippytile/internal/logger"
	"github.com/geoyee/slippytile/internal/model"
)

var errLocationRequired = errors.New("either --lat/--lon or --x/--y is required")

type locationFlags struct {
	lat, lon float64
	x, y     int64
	zoom     int
	size     int
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Center latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "Center longitude")
	cmd.Flags().Int64Var(&f.x, "x", -1, "Center tile column")
	cmd.Flags().Int64Var(&f.y, "y", -1, "Center tile row")
	cmd.Flags().IntVarP(&f.zoom, "zoom", "z", 17, "Zoom level (0-25)")
	cmd.Flags().IntVar(&f.size, "size", 256, "Tile size in pixels (256, 512, 768)")
}

// location returns the center given on the command line, preferring tile
// coordinates when both forms are present.
func (f *locationFlags) location(cmd *cobra.Command) (model.Location, error) {
	hasTile := cmd.Flags().Changed("x") || cmd.Flags().Changed("y")
	hasGeo := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")

	switch {
	case hasTile:
		if f.x < 0 || f.y < 0 {
			return nil, errors.New("--x and --y must both be set and non-negative")
		}
		return model.TileCoordinates{X: uint32(f.x), Y: uint32(f.y)}, nil
	case hasGeo:
		if err := calculator.ValidateGeo(f.lat, f.lon); err != nil {
			return nil, err
		}
		return model.GeoCoordinates{Latitude: f.lat, Longitude: f.lon}, nil
	default:
		return nil, errLocationRequired
	}
}

type fetchOptions struct {
	locationFlags
	radius      int
	noCache     bool
	endpoint    string
	dir         string
	configFile  string
	envFile     string
	retryFailed bool
	deadline    time.Duration
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tile-downloader",
		Short:        "Download web-mercator map tiles around a point",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newFetchCmd(), newTileCmd())
	return rootCmd
}

func newFetchCmd() *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every tile within a radius of a center point",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts)
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVarP(&opts.radius, "radius", "r", 0, "Number of tile rings around the center (0-255)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "Re-download tiles that already exist on disk")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "Tile server base URL or {z}/{x}/{y} template")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Tiles directory")
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "YAML settings file")
	cmd.Flags().StringVar(&opts.envFile, "env", ".env", "Environment file")
	cmd.Flags().BoolVar(&opts.retryFailed, "retry-failed", false, "Also retry tiles that failed in a previous run")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 0, "Give up after this long (0 waits until done)")
	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	settings, err := config.Load(opts.configFile, opts.envFile)
	if err != nil {
		return err
	}
	if opts.endpoint != "" {
		settings.Endpoint = opts.endpoint
	}
	if opts.dir != "" {
		settings.TilesDirectory = opts.dir
	}

	zoom, err := model.ParseZoomLevel(opts.zoom)
	if err != nil {
		return err
	}
	if opts.radius < 0 || opts.radius > 255 {
		return fmt.Errorf("radius %d out of range (0-255)", opts.radius)
	}
	center, err := opts.location(cmd)
	if err != nil && !(opts.retryFailed && errors.Is(err, errLocationRequired)) {
		return err
	}

	lg := logger.NewStdLoggerTo(newLogOutput(cmd.ErrOrStderr()), settings.LogLevel)
	d, err := download.NewFromSettings(settings, lg)
	if err != nil {
		return err
	}
	defer d.Close()

	if center != nil {
		d.Request(model.RegionRequest{
			Size:     model.NewTileSize(opts.size),
			Zoom:     zoom,
			Center:   center,
			Radius:   model.Radius(opts.radius),
			UseCache: !opts.noCache,
		})
	}
	if opts.retryFailed {
		lg.Infow("retrying failed tiles", "count", d.RetryFailed())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.deadline)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	failed, fetched := 0, 0
	ticker := time.NewTicker(settings.TickInterval)
	defer ticker.Stop()

	for {
		for _, ev := range d.Tick() {
			switch ev.Kind {
			case model.EventDownloaded:
				fetched++
				fmt.Fprintf(out, "%s %s\n", ev.Key, ev.Path)
			case model.EventFailed:
				failed++
				fmt.Fprintf(out, "%s failed: %v\n", ev.Key, ev.Err)
			}
		}
		if d.Idle() {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("stopped with work outstanding: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	fmt.Fprintf(out, "%d tiles ready, %d failed\n", fetched, failed)
	if failed > 0 {
		return fmt.Errorf("%d tiles failed to download", failed)
	}
	return nil
}

func newTileCmd() *cobra.Command {
	loc := &locationFlags{}
	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Show the tile, pixel position and extent of a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			zoom, err := model.ParseZoomLevel(loc.zoom)
			if err != nil {
				return err
			}
			center, err := loc.location(cmd)
			if err != nil {
				return err
			}
			coords, err := calculator.Resolve(center, zoom)
			if err != nil {
				return err
			}

			size := model.NewTileSize(loc.size)
			key := model.TileKey{Coordinates: coords, Zoom: zoom, Size: size}
			corner := calculator.TileToGeo(coords.X, coords.Y, zoom)
			geo, ok := center.(model.GeoCoordinates)
			if !ok {
				geo = corner
			}
			px, py := calculator.TileToWorldPixel(geo, size, zoom)
			bound := calculator.TileBound(key)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tile:      %d/%d/%d\n", zoom, coords.X, coords.Y)
			fmt.Fprintf(out, "corner:    %.10f, %.10f\n", corner.Latitude, corner.Longitude)
			fmt.Fprintf(out, "pixel:     %.3f, %.3f\n", px, py)
			fmt.Fprintf(out, "bounds:    %.10f, %.10f, %.10f, %.10f\n", bound.Min.Lon(), bound.Min.Lat(), bound.Max.Lon(), bound.Max.Lat())
			fmt.Fprintf(out, "m/pixel:   %.4f\n", calculator.MetersPerPixel(zoom, geo.Latitude, size))
			return nil
		},
	}
	loc.register(cmd)
	return cmd
}

func newLogOutput(w io.Writer) *log.Logger {
	return log.New(w, "", log.LstdFlags)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
