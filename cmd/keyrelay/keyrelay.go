// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/marmotd/keyrelay/cfg"
	"github.com/marmotd/keyrelay/client"
)

var (
	relayURL string
	identity string
	kind     int
	keyrelay = &cobra.Command{
		Use:   "keyrelay",
		Short: "keyrelay",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			cfg.MustInit()
			conf := cfg.MustGet[client.Config]()
			if relayURL != "" {
				conf.RelayURL = relayURL
			}
			if identity != "" {
				conf.LocalIdentity = identity
			}
			if kind != 0 {
				conf.WatchedKind = kind
			}
			transport, err := client.DialRelay(ctx, conf.RelayURL)
			if err != nil {
				log.Panic(err)
			}
			relayClient := client.New(conf, transport, nil)
			observer := relayClient.RegisterReplenishmentObserver()
			go func() {
				for {
					select {
					case signal := <-observer:
						log.Printf("relay %v requested key package replenishment for %v (subscription %v, received at %v)",
							conf.RelayURL, conf.LocalIdentity, signal.SubscriptionID, signal.ReceivedAt)
					case <-ctx.Done():
						return
					}
				}
			}()
			if err := relayClient.Run(ctx); err != nil {
				log.Panic(err)
			}
		},
	}
	initFlags = func() {
		keyrelay.Flags().StringVar(&relayURL, "relay", "", "websocket url of the relay to connect to")
		keyrelay.Flags().StringVar(&identity, "identity", "", "local identity (hex public key) whose key packages are watched")
		keyrelay.Flags().IntVar(&kind, "kind", 0, "event kind to watch for replenishment requests")
	}
)

func init() {
	initFlags()
}

func main() {
	if err := keyrelay.Execute(); err != nil {
		log.Panic(err)
	}
}
