// Command riddled checks how an Ethereum node reports failing transactions.
//
// It deploys the Riddled contract and sends transactions that end in REVERT,
// in an invalid opcode and in a bad jump, then checks their receipts and,
// when the node serves the debug API, their traces.
//
//	riddled -rpc http://127.0.0.1:8545
//	riddled -devnode -run riddled/trace
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/davecgh/go-spew/spew"
	"github.com/riddled-eth/riddled/internal/config"
	"github.com/riddled-eth/riddled/internal/devnode"
	"github.com/riddled-eth/riddled/internal/harness"
	"github.com/riddled-eth/riddled/internal/suite"
	"gopkg.in/inconshreveable/log15.v2"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitSetup = 2
)

var (
	configFlag   = flag.String("config", "", "YAML configuration file")
	rpcFlag      = flag.String("rpc", config.DefaultRPC, "JSON-RPC endpoint of the node (http, ws or ipc)")
	runFlag      = flag.String("run", "", "Regexp selecting the tests to run, as suite/test")
	loglevelFlag = flag.Int("loglevel", config.DefaultLogLevel, "Log level to use for displaying system events")
	devnodeFlag  = flag.Bool("devnode", false, "Start a geth development node in docker and test against it")
	dumpFlag     = flag.Bool("dump", false, "Dump the full test results")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitSetup
	}
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.Lvl(cfg.LogLevel), log15.StreamHandler(os.Stderr, log15.TerminalFormat())))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.Devnode.Enabled {
		node, err := devnode.Start(ctx, devnode.Config{
			Image:        cfg.Devnode.Image,
			StartTimeout: cfg.Devnode.StartTimeout.Duration,
			Output:       devnodeOutput(cfg.LogLevel),
		})
		if err != nil {
			log15.Crit("failed to start dev node", "err", err)
			return exitSetup
		}
		defer node.Stop()
		cfg.RPC = node.URL
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.RPC.Duration)
	env, err := harness.Dial(dialCtx, cfg.RPC, cfg.Timeouts.RPC.Duration)
	cancel()
	if err != nil {
		log15.Crit("failed to connect to node", "err", err)
		return exitSetup
	}
	defer env.Close()
	env.PollInterval = cfg.PollInterval.Duration

	opts, err := suiteOptions(cfg)
	if err != nil {
		log15.Crit("invalid configuration", "err", err)
		return exitSetup
	}
	runner, err := suite.NewRunner(ctx, *runFlag, log15.Root())
	if err != nil {
		log15.Crit("failed to parse test pattern", "err", err)
		return exitSetup
	}
	results := runner.Run(suite.Riddled(env, opts))

	suite.WriteReport(os.Stdout, results)
	if *dumpFlag {
		spew.Fdump(os.Stdout, results)
	}
	if len(results) == 0 {
		log15.Warn("no test matched", "pattern", *runFlag)
	}
	if !suite.Passed(results) {
		return exitFail
	}
	return exitPass
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFlag != "" {
		var err error
		if cfg, err = config.Load(*configFlag); err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rpc":
			cfg.RPC = *rpcFlag
		case "loglevel":
			cfg.LogLevel = *loglevelFlag
		case "devnode":
			cfg.Devnode.Enabled = *devnodeFlag
		}
	})
	return cfg, nil
}

func suiteOptions(cfg config.Config) (suite.RiddledOptions, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return suite.RiddledOptions{}, err
	}
	key, err := cfg.Key()
	if err != nil {
		return suite.RiddledOptions{}, err
	}
	fund, err := cfg.Fund()
	if err != nil {
		return suite.RiddledOptions{}, err
	}
	return suite.RiddledOptions{
		Owner:        owner,
		Password:     cfg.Password,
		Key:          key,
		ChainID:      cfg.ChainIDBig(),
		MaxGas:       cfg.MaxGas,
		FundAmount:   fund,
		MinedTimeout: cfg.Timeouts.Mined.Duration,
	}, nil
}

// devnodeOutput shows the node's own log at debug level.
func devnodeOutput(level int) io.Writer {
	if log15.Lvl(level) >= log15.LvlDebug {
		return os.Stderr
	}
	return nil
}
