package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/screa/create2-deployer/internal/config"
	"github.com/screa/create2-deployer/internal/crypto"
	logpkg "github.com/screa/create2-deployer/internal/logger"
	"github.com/screa/create2-deployer/pkg/artifact"
	"github.com/screa/create2-deployer/pkg/cache"
	"github.com/screa/create2-deployer/pkg/deployer"
	minerpkg "github.com/screa/create2-deployer/pkg/miner"
	"github.com/screa/create2-deployer/pkg/relay"
	"github.com/screa/create2-deployer/pkg/resolver"
	"github.com/screa/create2-deployer/pkg/types"
	"github.com/screa/create2-deployer/pkg/verify"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	defaults := config.NewConfig()

	rootCmd := &cobra.Command{
		Use:   "create2-deployer",
		Short: "Vanity CREATE2 salt miner and deployer",
		Long: `Mines salts that give contracts deployed through a CREATE2 relay
(the ERC-2470 singleton factory by default) an address with a chosen hex prefix,
then deploys and verifies them.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Config file (yaml, json or toml)")
	pf.IntP("workers", "w", defaults.Workers, "Number of worker goroutines")
	pf.BoolP("verbose", "v", defaults.Verbose, "Verbose output")
	pf.StringP("log-file", "l", defaults.LogFile, "Log file for progress tracking (default: stdout)")
	pf.IntP("log-interval", "i", defaults.LogInterval, "Logging interval in seconds")
	pf.String("relay", defaults.Relay, "CREATE2 relay contract address")
	pf.String("max-salt", defaults.MaxSalt, "Exclusive upper bound of the salt search")
	pf.String("cache", defaults.CachePath, "Salt cache file")

	rootCmd.AddCommand(mineCmd(defaults), addressCmd(defaults), deployCmd(defaults), verifyCmd(defaults))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func bytecodeFlags(cmd *cobra.Command, defaults *config.Config) {
	cmd.Flags().StringP("bytecode", "B", defaults.Bytecode, "Contract init code for CREATE2 address calculation (hex)")
	cmd.Flags().StringP("bytecode-file", "F", defaults.BytecodeFile, "File containing contract init code (hex)")
}

func chainFlags(cmd *cobra.Command, defaults *config.Config) {
	cmd.Flags().String("rpc-url", defaults.RPCURL, "JSON-RPC endpoint")
	cmd.Flags().String("artifact", defaults.Artifact, "Hardhat or foundry contract artifact")
	cmd.Flags().StringSlice("args", defaults.Args, "Constructor arguments")
	cmd.Flags().Duration("timeout", defaults.Timeout, "Verification command timeout")
	cmd.Flags().String("verify-command", defaults.VerifyCommand, "Source verification command")
	cmd.Flags().String("verify-network", defaults.VerifyNetwork, "Network passed to the verification command")
}

func mineCmd(defaults *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine a salt for init code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, closer := openLogger(cfg)
			defer closer.Close()

			initCode, err := cfg.GetBytecode()
			if err != nil {
				return err
			}
			target, err := cfg.Target()
			if err != nil {
				return err
			}
			c, err := cache.Open(cfg.CachePath)
			if err != nil {
				return err
			}

			logger.Info("Starting CREATE2 salt miner", "workers", cfg.Workers, "target", cfg.GetTargetDescription(),
				"relay", target.Relay, "initCodeSize", len(initCode))
			if cfg.IsZeroPrefix() {
				logger.Warn("Zero prefix only matches leading zero nibbles, this may take a while")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			miner := minerpkg.NewMiner(cfg, c, logger)
			resultChan := make(chan mineOutcome, 1)
			go func() {
				result, err := miner.Mine(cmd.Context(), initCode, target)
				resultChan <- mineOutcome{result, err}
			}()

			select {
			case out := <-resultChan:
				if out.result != nil {
					printResult(logger, out.result)
				}
				return out.err
			case <-sigChan:
				logger.Info("Received interrupt signal, stopping miners")
				miner.Stop()
				<-resultChan
				logger.Info("Mining stopped by user")
				return nil
			}
		},
	}
	bytecodeFlags(cmd, defaults)
	cmd.Flags().StringP("prefix", "p", defaults.Prefix, "Address prefix to match (hex, case-insensitive)")
	return cmd
}

func addressCmd(defaults *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Compute the CREATE2 address of init code and salt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAddress(); err != nil {
				return err
			}
			initCode, err := cfg.GetBytecode()
			if err != nil {
				return err
			}
			relayAddr, err := cfg.RelayAddress()
			if err != nil {
				return err
			}
			salt, err := cfg.SaltHash()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.CalculateCreate2Address(relayAddr, salt, initCode).Hex())
			return nil
		},
	}
	bytecodeFlags(cmd, defaults)
	cmd.Flags().StringP("salt", "s", defaults.Salt, "Salt (hex or decimal)")
	return cmd
}

func deployCmd(defaults *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Mine a salt for a contract and deploy it through the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateDeploy(); err != nil {
				return err
			}
			logger, closer := openLogger(cfg)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := dial(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer env.client.Close()

			key, err := gethcrypto.HexToECDSA(crypto.TrimHexPrefix(cfg.PrivateKey))
			if err != nil {
				return fmt.Errorf("invalid --private-key: %w", err)
			}
			signer, err := bind.NewKeyedTransactorWithChainID(key, env.chainID)
			if err != nil {
				return err
			}
			target, err := cfg.Target()
			if err != nil {
				return err
			}
			c, err := cache.Open(cfg.CachePath)
			if err != nil {
				return err
			}
			submitter, err := relay.New(target.Relay, env.client, relay.Options{
				GasLimit:     cfg.GasLimit,
				PollInterval: cfg.PollInterval,
				Timeout:      cfg.SubmitTimeout,
			}, logger)
			if err != nil {
				return err
			}

			opts := deployer.Options{
				Resolver:  resolver.New(env.client, env.chainID, logger),
				Miner:     minerpkg.NewMiner(cfg, c, logger),
				Submitter: submitter,
				ChainID:   env.chainID,
				Prefix:    target.Prefix,
				MaxSalt:   target.MaxSalt,
				Logger:    logger,
			}
			if !cfg.NoVerify {
				opts.Verifier = newVerifier(cfg, logger)
			}

			logger.Info("Deploying", "contract", env.tmpl.Name, "from", signer.From, "chain", env.chainID,
				"target", cfg.GetTargetDescription())
			res, err := deployer.New(opts).MineAndDeploy(ctx, env.tmpl, env.args, signer)
			if err != nil {
				return err
			}
			logger.Info("🎉 Deployment complete", "contract", env.tmpl.Name, "address", res.Address, "salt", res.Salt,
				"tx", res.TxHash, "gasUsed", res.GasUsed, "alreadyDeployed", res.AlreadyDeployed, "stage", res.Stage)
			if cfg.Verbose && len(res.TxData) > 0 {
				logger.Debug("Deployment calldata", "data", hexutil.Encode(res.TxData))
			}
			return nil
		},
	}
	cmd.Flags().StringP("prefix", "p", defaults.Prefix, "Address prefix to match (hex, case-insensitive)")
	cmd.Flags().String("private-key", defaults.PrivateKey, "Deployer private key (hex)")
	cmd.Flags().Uint64("gas-limit", defaults.GasLimit, "Gas limit of the relay deployment")
	cmd.Flags().Duration("poll-interval", defaults.PollInterval, "Receipt polling interval")
	cmd.Flags().Duration("submit-timeout", defaults.SubmitTimeout, "Deadline for the relay deployment to be mined")
	cmd.Flags().Bool("no-verify", defaults.NoVerify, "Skip source verification")
	chainFlags(cmd, defaults)
	return cmd
}

func verifyCmd(defaults *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the source of a deployed contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, configFile)
			if err != nil {
				return err
			}
			if err := cfg.ValidateVerify(); err != nil {
				return err
			}
			logger, closer := openLogger(cfg)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := dial(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer env.client.Close()

			address, err := crypto.ParseAddress(cfg.Address)
			if err != nil {
				return err
			}
			d := deployer.New(deployer.Options{
				Verifier: newVerifier(cfg, logger),
				ChainID:  env.chainID,
				Logger:   logger,
			})
			if !d.Verify(ctx, address, env.args) {
				logger.Info("Contract not verified", "address", address)
			}
			return nil
		},
	}
	cmd.Flags().String("address", defaults.Address, "Deployed contract address")
	chainFlags(cmd, defaults)
	return cmd
}

type mineOutcome struct {
	result *types.Result
	err    error
}

// chainEnv is what the deploy and verify commands share.
type chainEnv struct {
	client  *ethclient.Client
	chainID *big.Int
	tmpl    *artifact.Template
	args    []any
}

func dial(ctx context.Context, cfg *config.Config, logger log.Logger) (*chainEnv, error) {
	tmpl, err := artifact.Load(cfg.Artifact)
	if err != nil {
		return nil, err
	}
	args, err := tmpl.ParseArgs(cfg.Args)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	logger.Debug("Connected", "rpc", cfg.RPCURL, "chain", chainID)
	return &chainEnv{client: client, chainID: chainID, tmpl: tmpl, args: args}, nil
}

func newVerifier(cfg *config.Config, logger log.Logger) verify.Verifier {
	return &verify.CommandVerifier{
		Command: cfg.VerifyCommand,
		Network: cfg.VerifyNetwork,
		Timeout: cfg.Timeout,
		Logger:  logger,
	}
}

func openLogger(cfg *config.Config) (log.Logger, io.Closer) {
	logger, closer := logpkg.Open(logpkg.Options{File: cfg.LogFile, Verbose: cfg.Verbose})
	log.SetDefault(logger)
	return logger, closer
}

func printResult(logger log.Logger, result *types.Result) {
	if result.Cached {
		logger.Info("🎉 Found match in cache", "address", result.Address, "salt", result.Salt)
		return
	}
	rate := 0.0
	if result.Duration.Seconds() > 0 {
		rate = float64(result.Attempts) / result.Duration.Seconds()
	}
	logger.Info("🎉 Found match!", "address", result.Address, "salt", result.Salt, "attempts", result.Attempts,
		"duration", result.Duration.Round(time.Millisecond), "rate", fmt.Sprintf("%.2f hashes/sec", rate))
}
