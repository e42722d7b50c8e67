// Package ledger parses ledger command flags and starts the API
// service.
package ledger

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/louisbranch/sealbox/internal/api"
	"github.com/louisbranch/sealbox/internal/auth"
	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/ibe"
	"github.com/louisbranch/sealbox/internal/ledger"
	entrypoint "github.com/louisbranch/sealbox/internal/platform/cmd"
	"github.com/louisbranch/sealbox/internal/sealing"
	"github.com/louisbranch/sealbox/internal/storage/sqlite"
)

// Config holds ledger command configuration.
type Config struct {
	Addr      string `env:"SEALBOX_LEDGER_ADDR" envDefault:":8080"`
	DBPath    string `env:"SEALBOX_LEDGER_DB" envDefault:"sealbox.db"`
	Name      string `env:"SEALBOX_TOKEN_NAME" envDefault:"Sealbox"`
	Symbol    string `env:"SEALBOX_TOKEN_SYMBOL" envDefault:"SBX"`
	KeyIssuer string `env:"SEALBOX_KEY_ISSUER"`
	IV        string `env:"SEALBOX_IV"`

	// IBE public parameters, decimal strings published by the
	// key-issuer at setup time. Optional: a ledger without them still
	// gates the lifecycle, it just serves empty parameters.
	FieldOrder    string `env:"SEALBOX_IBE_FIELD_ORDER"`
	SubgroupOrder string `env:"SEALBOX_IBE_SUBGROUP_ORDER"`
	PointPX       string `env:"SEALBOX_IBE_POINT_P_X"`
	PointPY       string `env:"SEALBOX_IBE_POINT_P_Y"`
	PointPpubX    string `env:"SEALBOX_IBE_POINT_PPUBLIC_X"`
	PointPpubY    string `env:"SEALBOX_IBE_POINT_PPUBLIC_Y"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The ledger listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The ledger database path")
	fs.StringVar(&cfg.KeyIssuer, "key-issuer", cfg.KeyIssuer, "The key-issuer address")
	fs.StringVar(&cfg.IV, "iv", cfg.IV, "The hex sealing vector published to senders")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the ledger API service.
func Run(ctx context.Context, cfg Config) error {
	if cfg.KeyIssuer == "" {
		return errors.New("SEALBOX_KEY_ISSUER is required")
	}
	if cfg.IV != "" {
		if _, err := sealing.ParseIV(cfg.IV); err != nil {
			return fmt.Errorf("SEALBOX_IV: %w", err)
		}
	}
	params, err := ibeParams(cfg)
	if err != nil {
		return err
	}
	grants, err := auth.LoadGrantConfigFromEnv(nil)
	if err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLedger, func(ctx context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		svc, err := ledger.New(ledger.Config{
			Name:      cfg.Name,
			Symbol:    cfg.Symbol,
			KeyIssuer: cfg.KeyIssuer,
			IV:        cfg.IV,
			Params:    params,
		}, store, events.NewEmitter(store))
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.New(svc, grants),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Printf("ledger listening on %s", cfg.Addr)
			errCh <- server.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	})
}

// ibeParams assembles the public-parameter quadruple from config. All
// six values must be present together.
func ibeParams(cfg Config) (ibe.Params, error) {
	values := []string{
		cfg.FieldOrder, cfg.SubgroupOrder,
		cfg.PointPX, cfg.PointPY, cfg.PointPpubX, cfg.PointPpubY,
	}
	var set int
	for _, v := range values {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return ibe.Params{}, nil
	}
	if set != len(values) {
		return ibe.Params{}, errors.New("IBE parameters must be provided together")
	}

	parse := func(name, v string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() <= 0 {
			return nil, fmt.Errorf("%s must be a positive decimal integer", name)
		}
		return n, nil
	}
	var (
		params ibe.Params
		err    error
	)
	if params.FieldOrder, err = parse("SEALBOX_IBE_FIELD_ORDER", cfg.FieldOrder); err != nil {
		return ibe.Params{}, err
	}
	if params.SubgroupOrder, err = parse("SEALBOX_IBE_SUBGROUP_ORDER", cfg.SubgroupOrder); err != nil {
		return ibe.Params{}, err
	}
	if params.PointP.X, err = parse("SEALBOX_IBE_POINT_P_X", cfg.PointPX); err != nil {
		return ibe.Params{}, err
	}
	if params.PointP.Y, err = parse("SEALBOX_IBE_POINT_P_Y", cfg.PointPY); err != nil {
		return ibe.Params{}, err
	}
	if params.PointPPublic.X, err = parse("SEALBOX_IBE_POINT_PPUBLIC_X", cfg.PointPpubX); err != nil {
		return ibe.Params{}, err
	}
	if params.PointPPublic.Y, err = parse("SEALBOX_IBE_POINT_PPUBLIC_Y", cfg.PointPpubY); err != nil {
		return ibe.Params{}, err
	}
	return params, nil
}
