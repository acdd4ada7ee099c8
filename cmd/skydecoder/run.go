package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/postalsys/skydecoder/internal/config"
	"github.com/postalsys/skydecoder/internal/decoder"
	"github.com/postalsys/skydecoder/internal/flash"
	"github.com/postalsys/skydecoder/internal/logging"
	"github.com/postalsys/skydecoder/internal/metrics"
	"github.com/postalsys/skydecoder/internal/recovery"
	"github.com/postalsys/skydecoder/internal/subscription"
	"github.com/postalsys/skydecoder/internal/wire"
)

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decoder",
		Long: `Run the decoder against its host link.

The link is taken from the configuration: a serial device, a TCP listen
address (connections served one at a time), or stdin/stdout when neither
is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runDecoder(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "skydecoder.yaml", "configuration file")
	return cmd
}

func runDecoder(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.Default()
		go func() {
			defer recovery.RecoverWithLog(logger, "metrics-server")
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listening", "address", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server failed", logging.KeyError, err)
			}
		}()
	}

	dev, err := openFlash(cfg, logger)
	if err != nil {
		return err
	}

	store, err := subscription.NewStore(dev, flash.NopCacheController{}, cfg.Flash.Pages, m)
	if err != nil {
		return err
	}

	params, err := decoderParams(cfg)
	if err != nil {
		return err
	}

	ctx, err := decoder.NewContext(params, store, logger, m)
	if err != nil {
		return err
	}

	switch {
	case cfg.Link.Listen != "":
		return serveTCP(ctx, cfg.Link.Listen, logger)
	case cfg.Link.Device != "":
		return serveDevice(ctx, cfg.Link.Device, logger)
	default:
		logger.Info("decoder serving on stdio", logging.KeyDecoderID, cfg.Decoder.ID)
		return ctx.Serve(wire.NewConn(stdioLink{os.Stdin, os.Stdout}))
	}
}

// openFlash opens the configured backing store: a persistent image file,
// or volatile memory when none is configured.
func openFlash(cfg *config.Config, logger *slog.Logger) (flash.Device, error) {
	numPages := 0
	for _, p := range cfg.Flash.Pages {
		if p >= numPages {
			numPages = p + 1
		}
	}

	if cfg.Flash.Image == "" {
		logger.Warn("no flash image configured; subscriptions will not survive restarts")
		return flash.NewMemDevice(cfg.Flash.PageSize, numPages), nil
	}

	dev, err := flash.OpenFileDevice(cfg.Flash.Image, cfg.Flash.PageSize, numPages)
	if err != nil {
		return nil, err
	}
	logger.Info("flash image opened",
		"image", cfg.Flash.Image,
		"size", humanize.IBytes(uint64(cfg.Flash.PageSize)*uint64(numPages)))
	return dev, nil
}

// decoderParams assembles the provisioned parameters from the config.
func decoderParams(cfg *config.Config) (decoder.Params, error) {
	subKey, err := cfg.GetSubscriptionKey()
	if err != nil {
		return decoder.Params{}, err
	}
	subPub, err := cfg.GetSubscriptionPublicKey()
	if err != nil {
		return decoder.Params{}, err
	}
	emKey, err := cfg.GetEmergencyKey()
	if err != nil {
		return decoder.Params{}, err
	}
	emPub, err := cfg.GetEmergencyPublicKey()
	if err != nil {
		return decoder.Params{}, err
	}

	return decoder.Params{
		DecoderID:             cfg.Decoder.ID,
		SubscriptionKey:       subKey,
		SubscriptionPublicKey: subPub,
		EmergencyChannelID:    cfg.Decoder.EmergencyChannelID,
		EmergencyKey:          emKey,
		EmergencyPublicKey:    emPub,
	}, nil
}

// serveTCP accepts host connections one at a time; the protocol is
// strictly request/response on a single link.
func serveTCP(ctx *decoder.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	logger.Info("decoder listening", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		logger.Info("host connected", "remote", conn.RemoteAddr().String())
		if err := ctx.Serve(wire.NewConn(conn)); err != nil {
			logger.Warn("link failed", logging.KeyError, err)
		}
		conn.Close()
		logger.Info("host disconnected", "remote", conn.RemoteAddr().String())
	}
}

// serveDevice speaks on a serial device node. Line discipline is expected
// to be configured before launch.
func serveDevice(ctx *decoder.Context, path string, logger *slog.Logger) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer f.Close()

	logger.Info("decoder serving", "device", path)
	return ctx.Serve(wire.NewConn(f))
}

// stdioLink glues stdin and stdout into one byte stream.
type stdioLink struct {
	io.Reader
	io.Writer
}
