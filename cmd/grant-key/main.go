// Package main provides a one-shot utility for actor-grant keys.
//
// Without flags it emits a fresh signing keypair. With -address it
// signs a grant for that address using the key in
// SEALBOX_GRANT_PRIVATE_KEY.
package main

import (
	"flag"
	"os"
	"time"

	"github.com/louisbranch/sealbox/internal/platform/config"
	"github.com/louisbranch/sealbox/internal/tools/grantkey"
)

func main() {
	var (
		address  = flag.String("address", "", "sign a grant for this ledger address")
		issuer   = flag.String("issuer", "sealbox-grants", "grant issuer")
		audience = flag.String("audience", "sealbox-ledger", "grant audience")
		ttl      = flag.Duration("ttl", time.Hour, "grant lifetime")
	)
	flag.Parse()

	if *address == "" {
		if err := grantkey.Run(os.Stdout, nil); err != nil {
			config.Exitf("generate grant key: %v", err)
		}
		return
	}

	err := grantkey.Sign(os.Stdout, grantkey.SignInput{
		PrivateKey: os.Getenv("SEALBOX_GRANT_PRIVATE_KEY"),
		Issuer:     *issuer,
		Audience:   *audience,
		Address:    *address,
		TTL:        *ttl,
	})
	if err != nil {
		config.Exitf("sign grant: %v", err)
	}
}
