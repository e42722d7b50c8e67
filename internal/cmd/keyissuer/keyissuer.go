// Package keyissuer parses key-issuer command flags and starts the
// watcher daemon.
package keyissuer

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/louisbranch/sealbox/internal/ibe"
	"github.com/louisbranch/sealbox/internal/keyissuer"
	"github.com/louisbranch/sealbox/internal/ledgerclient"
	entrypoint "github.com/louisbranch/sealbox/internal/platform/cmd"
)

// Config holds key-issuer command configuration.
type Config struct {
	LedgerURL    string        `env:"SEALBOX_LEDGER_URL" envDefault:"http://127.0.0.1:8080"`
	Grant        string        `env:"SEALBOX_KEYISSUER_GRANT"`
	MasterSecret string        `env:"SEALBOX_IBE_MASTER_SECRET"`
	PollInterval time.Duration `env:"SEALBOX_KEYISSUER_POLL_INTERVAL" envDefault:"5s"`
	Cursor       int64         `env:"SEALBOX_KEYISSUER_CURSOR" envDefault:"0"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.LedgerURL, "ledger", cfg.LedgerURL, "The ledger base URL")
	fs.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "The journal poll interval")
	fs.Int64Var(&cfg.Cursor, "cursor", cfg.Cursor, "The journal cursor to resume from")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the key-issuer daemon.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Grant == "" {
		return errors.New("SEALBOX_KEYISSUER_GRANT is required")
	}
	master, err := loadMaster(cfg.MasterSecret)
	if err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceKeyIssuer, func(ctx context.Context) error {
		client := ledgerclient.New(cfg.LedgerURL)
		client.Grant = cfg.Grant

		watcher, err := keyissuer.New(client, master, cfg.PollInterval, cfg.Cursor, log.Default())
		if err != nil {
			return err
		}
		if err := watcher.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
}

// loadMaster rebuilds the master from the configured secret, or runs
// a fresh setup and prints the material a deployment needs to record.
func loadMaster(secret string) (*ibe.Master, error) {
	if secret != "" {
		s, ok := new(big.Int).SetString(secret, 10)
		if !ok {
			return nil, errors.New("SEALBOX_IBE_MASTER_SECRET must be a decimal integer")
		}
		return ibe.MasterFromSecret(s)
	}

	master, err := ibe.Setup()
	if err != nil {
		return nil, fmt.Errorf("ibe setup: %w", err)
	}
	params := master.Params()
	log.Printf("generated fresh IBE parameters; record these for the ledger:")
	log.Printf("  SEALBOX_IBE_MASTER_SECRET=%s", master.Secret())
	log.Printf("  SEALBOX_IBE_FIELD_ORDER=%s", params.FieldOrder)
	log.Printf("  SEALBOX_IBE_SUBGROUP_ORDER=%s", params.SubgroupOrder)
	log.Printf("  SEALBOX_IBE_POINT_P_X=%s SEALBOX_IBE_POINT_P_Y=%s", params.PointP.X, params.PointP.Y)
	log.Printf("  SEALBOX_IBE_POINT_PPUBLIC_X=%s SEALBOX_IBE_POINT_PPUBLIC_Y=%s", params.PointPPublic.X, params.PointPPublic.Y)
	return master, nil
}
