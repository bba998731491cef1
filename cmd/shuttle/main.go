// shuttle is a local development blockchain node: an in-memory,
// optionally forked EVM-compatible chain behind a JSON-RPC endpoint
// with the standard eth/web3/net surface plus the anvil/hardhat cheat
// methods.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shuttlelabs/shuttle/backend"
	"github.com/shuttlelabs/shuttle/rpcapi"
)

func main() {
	app := &cli.App{
		Name:  "shuttle",
		Usage: "local development blockchain node",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Value: 8545, Usage: "HTTP-RPC listening port"},
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "HTTP-RPC listening interface"},
			&cli.Uint64Flag{Name: "chain-id", Value: backend.Defaults.ChainID, Usage: "chain/network id"},
			&cli.IntFlag{Name: "accounts", Value: backend.Defaults.Accounts, Usage: "number of funded dev accounts"},
			&cli.StringFlag{Name: "mnemonic", Value: backend.Defaults.Mnemonic, Usage: "dev account derivation seed"},
			&cli.StringFlag{Name: "fork-url", Usage: "remote endpoint to fork"},
			&cli.Uint64Flag{Name: "fork-block", Usage: "fork pin height (default: remote head)"},
			&cli.Uint64Flag{Name: "block-time", Usage: "interval mining period in seconds (0 = automine)"},
			&cli.BoolFlag{Name: "no-mining", Usage: "disable automatic mining"},
			&cli.StringFlag{Name: "config", Usage: "TOML config file"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to a rotated file instead of stderr"},
			&cli.BoolFlag{Name: "print-accounts", Usage: "print the dev account table on startup"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogging(c.String("log-file"))

	cfg := backend.Defaults
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = backend.LoadConfig(path); err != nil {
			return err
		}
	}
	if c.IsSet("chain-id") {
		cfg.ChainID = c.Uint64("chain-id")
	}
	if c.IsSet("accounts") {
		cfg.Accounts = c.Int("accounts")
	}
	if c.IsSet("mnemonic") {
		cfg.Mnemonic = c.String("mnemonic")
	}
	if c.IsSet("fork-url") {
		cfg.ForkURL = c.String("fork-url")
	}
	if c.IsSet("fork-block") {
		cfg.ForkBlock = c.Uint64("fork-block")
	}
	if c.IsSet("block-time") {
		cfg.BlockTimeSeconds = c.Uint64("block-time")
	}
	if c.IsSet("no-mining") {
		cfg.NoMining = c.Bool("no-mining")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := backend.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if c.Bool("print-accounts") {
		printAccounts(b)
	}

	srv := rpc.NewServer()
	defer srv.Stop()
	if err := rpcapi.Register(srv, b); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/ws", srv.WebsocketHandler([]string{"*"}))
	handler := cors.AllowAll().Handler(mux)

	addr := c.String("host") + ":" + strconv.Itoa(c.Int("port"))
	httpSrv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	fmt.Printf("Listening on %s\n", addr)
	if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setupLogging(logFile string) {
	var output io.Writer = os.Stderr
	if logFile != "" {
		output = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
		}
	}
	ethlog.SetDefault(ethlog.NewLogger(ethlog.NewTerminalHandlerWithLevel(output, ethlog.LevelInfo, logFile == "")))
}

func printAccounts(b *backend.Backend) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Account"})
	for i, addr := range b.Signer().Accounts() {
		table.Append([]string{strconv.Itoa(i), addr.Hex()})
	}
	table.Render()
}
