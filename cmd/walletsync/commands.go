package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/tranvictor/walletsync"
)

var environmentsCommand = &cli.Command{
	Name:  "environments",
	Usage: "List environments and their deployments",
	Action: func(cCtx *cli.Context) error {
		resolver, err := walletsync.NewResolver()
		if err != nil {
			return err
		}

		fmt.Printf("Build: %s (unmapped chains fall back to %s)\n\n", walletsync.Build, walletsync.FallbackEnvironment)
		for _, env := range resolver.Environments() {
			cfg, _ := resolver.NetworkConfig(env)
			color.New(color.Bold).Printf("%s", env)
			fmt.Printf("  chain %d (%s)\n", cfg.ChainID, cfg.Name)
			if cfg.RPCURL != "" {
				fmt.Printf("    rpc:            %s\n", cfg.RPCURL)
			}
			addrs, ok := resolver.Addresses(env)
			if !ok {
				color.Yellow("    no deployment configured\n")
				continue
			}
			fmt.Printf("    proxy:          %s\n", addrs.ProxyAddress.Hex())
			fmt.Printf("    implementation: %s\n", addrs.ImplementationAddress.Hex())
			fmt.Printf("    deployer:       %s\n", addrs.Deployer.Hex())
			if !addrs.DeployedAt.IsZero() {
				fmt.Printf("    deployed at:    %s\n", addrs.DeployedAt.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var detectCommand = &cli.Command{
	Name:  "detect",
	Usage: "Show which environment the wallet is on",
	Flags: []cli.Flag{walletURLFlag},
	Action: func(cCtx *cli.Context) error {
		wallet, err := dialWallet(cCtx)
		if err != nil {
			return err
		}
		defer wallet.Close()

		resolver, err := walletsync.NewResolver()
		if err != nil {
			return err
		}

		chainID, err := wallet.ChainID(cCtx.Context)
		if err != nil {
			ne := walletsync.Classify(err)
			printNotification(ne)
			return ne
		}

		state := walletsync.NetworkState{Status: walletsync.StatusUninitialized}
		walletsync.NewChainObserver(resolver, walletsync.FallbackEnvironment).OnChainID(&state, chainID)
		printState(state)
		return nil
	},
}

var switchCommand = &cli.Command{
	Name:      "switch",
	Usage:     "Connect the wallet and switch it to an environment",
	ArgsUsage: "<environment>",
	Flags:     []cli.Flag{walletURLFlag, redisURLFlag, keyPrefixFlag, sessionKeyFlag, sessionDurationFlag},
	Action: func(cCtx *cli.Context) error {
		if cCtx.NArg() != 1 {
			return fmt.Errorf("expected exactly one environment, one of %v", walletsync.AllEnvironments)
		}
		env, err := walletsync.ParseEnvironment(cCtx.Args().First())
		if err != nil {
			return err
		}

		client, release, err := newClient(cCtx)
		if err != nil {
			return err
		}
		defer release()

		if err := client.Start(cCtx.Context); err != nil {
			return err
		}
		if err := client.Connect(cCtx.Context); err != nil {
			return err
		}
		if err := client.SwitchToEnvironment(cCtx.Context, env); err != nil {
			return err
		}
		color.Green("Wallet accepted the switch to %s", env)
		return nil
	},
}

var sessionCommand = &cli.Command{
	Name:  "session",
	Usage: "Inspect the shared session record",
	Flags: []cli.Flag{redisURLFlag, keyPrefixFlag, sessionKeyFlag},
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "Print the current session record",
			Action: func(cCtx *cli.Context) error {
				store, release, err := sessionStore(cCtx)
				if err != nil {
					return err
				}
				defer release()

				record, err := store.Read(cCtx.Context)
				if err != nil {
					return err
				}
				printSession(record)
				return nil
			},
		},
		{
			Name:  "clear",
			Usage: "Remove the session record, ending the session in every process",
			Action: func(cCtx *cli.Context) error {
				store, release, err := sessionStore(cCtx)
				if err != nil {
					return err
				}
				defer release()

				if err := store.Clear(cCtx.Context); err != nil {
					return err
				}
				color.Green("Session cleared")
				return nil
			},
		},
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Connect and follow network and session changes until interrupted",
	Flags: []cli.Flag{
		walletURLFlag, redisURLFlag, keyPrefixFlag, sessionKeyFlag, sessionDurationFlag,
		&cli.DurationFlag{
			Name:  "liveness-interval",
			Usage: "how often to re-check the session in case timers were delayed",
			Value: time.Minute,
		},
	},
	Action: func(cCtx *cli.Context) error {
		client, release, err := newClient(cCtx)
		if err != nil {
			return err
		}
		defer release()

		states, unsubscribe := client.Subscribe()
		defer unsubscribe()

		if err := client.Start(cCtx.Context); err != nil {
			return err
		}
		if err := client.Connect(cCtx.Context); err != nil {
			return err
		}

		ticker := time.NewTicker(cCtx.Duration("liveness-interval"))
		defer ticker.Stop()

		wasConnected := false
		for {
			select {
			case <-cCtx.Context.Done():
				return nil
			case state, ok := <-states:
				if !ok {
					return nil
				}
				printState(state)
				if wasConnected && !state.IsConnected {
					color.Yellow("Session ended")
					return nil
				}
				wasConnected = state.IsConnected
			case <-ticker.C:
				if _, err := client.VisibilityRegained(cCtx.Context); err != nil {
					printError(err)
				}
			}
		}
	},
}

func sessionStore(cCtx *cli.Context) (*walletsync.SessionStore, func(), error) {
	storage, release, err := newRedisStorage(cCtx)
	if err != nil {
		return nil, nil, err
	}
	return walletsync.NewSessionStore(storage, cCtx.String(sessionKeyFlag.Name), 0, nil), release, nil
}
