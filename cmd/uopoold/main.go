// Command uopoold runs a standalone UoPool instance: it loads
// configuration, opens the mempool and reputation backends, wires them to
// a chain provider, and keeps the reputation-decay and block-eviction
// tickers running. It exposes no RPC surface of its own; wiring a
// JSON-RPC adapter, a bundler submission loop, and the inter-process
// transport between them is left to an external process, per this
// component's scope.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/aabundler/uopool/config"
	"github.com/aabundler/uopool/internal/flags"
	"github.com/aabundler/uopool/mempool"
	"github.com/aabundler/uopool/reputation"
	"github.com/aabundler/uopool/uopool"
	"github.com/aabundler/uopool/uopool/rpcprovider"
	"github.com/aabundler/uopool/uotypes"
	"github.com/aabundler/uopool/validate"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "Path to the UoPool TOML configuration file",
		Category: flags.MiscCategory,
		Required: true,
	}
	rpcURLFlag = &cli.StringFlag{
		Name:     "rpc.url",
		Usage:    "Execution-layer JSON-RPC endpoint to validate against",
		Category: flags.ProviderCategory,
		Required: true,
	}
	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Category: flags.LoggingCategory,
		Value:    3,
	}
)

func main() {
	app := &cli.App{
		Name:  "uopoold",
		Usage: "ERC-4337 alternative mempool and validation daemon",
		Flags: []cli.Flag{configFlag, rpcURLFlag, verbosityFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(verbosityFlag.Name)), log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	mp, repStore, closeBackends, err := openBackends(cfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	client, err := rpcprovider.Dial(ctx.String(rpcURLFlag.Name), cfg.EntryPointAddress())
	if err != nil {
		return err
	}
	defer client.Close()

	validateCfg := validate.Config{
		MaxVerificationGas:          cfg.MaxVerificationGas,
		MinPriorityFeePerGas:        cfg.MinPriorityFeePerGas,
		ReplaceBumpPct:              cfg.ReplaceBumpPct,
		ThrottledEntityMempoolCount: cfg.ThrottledEntityMempoolCount,
		ExpirationBufferSec:         cfg.ExpirationBufferSec,
		GasOverheads:                uotypes.DefaultGasOverheads,
	}
	repCfg := reputation.Config{
		MinInclusionRateDenominator: cfg.MinInclusionRateDenominator,
		ThrottlingSlack:             cfg.ThrottlingSlack,
		BanSlack:                    cfg.BanSlack,
		MinStake:                    cfg.MinStake,
		MinUnstakeDelaySec:          cfg.MinUnstakeDelaySec,
		Whitelist:                   cfg.WhitelistAddresses(),
		Blacklist:                   cfg.BlacklistAddresses(),
	}

	publish := make(chan uopool.Published, 256)
	handle := uopool.NewPool(
		cfg.EntryPointAddress(),
		cfg.ChainID,
		client,
		client,
		mp,
		repStore,
		validateCfg,
		repCfg,
		uopool.WithPublishChannel(publish),
		uopool.WithTrustedAggregators(addressSlice(cfg.TrustedAggregators)),
		uopool.WithProviderTimeout(cfg.ProviderTimeout),
	)

	tickers := uopool.StartTickers(handle, cfg.ReputationTickInterval, cfg.BlockPollInterval)
	defer tickers.Stop()

	log.Info("uopoold started", "entry_point", cfg.EntryPointAddress(), "chain_id", cfg.ChainID, "durable", cfg.Durable)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("uopoold shutting down")
	return nil
}

func openBackends(cfg config.Config) (mempool.Mempool, reputation.Store, func(), error) {
	if !cfg.Durable {
		return mempool.NewMemDB(), reputation.NewMemDB(), func() {}, nil
	}

	mp, err := mempool.OpenBoltDB(filepath.Join(cfg.DataDir, "mempool.db"))
	if err != nil {
		return nil, nil, nil, err
	}
	repStore, err := reputation.OpenBoltDB(filepath.Join(cfg.DataDir, "reputation.db"))
	if err != nil {
		mp.Close()
		return nil, nil, nil, err
	}
	return mp, repStore, func() {
		mp.Close()
		repStore.Close()
	}, nil
}

func addressSlice(raw []string) []common.Address {
	addrs := make([]common.Address, len(raw))
	for i, s := range raw {
		addrs[i] = common.HexToAddress(s)
	}
	return addrs
}
