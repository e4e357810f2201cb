// main.go
// zkmultisig command line
// -----------------------------------------------------------------------------
// A 3-owner multisig wallet whose owners are registered only as commitments to
// their Ethereum addresses. Owners authorize transactions with Groth16 proofs
// that they hold a key behind one of the commitments, without revealing which.
//
// Usage:
//
//	zkmultisig [-config zkmultisig.yaml] <command> [flags]
//
// The wallet state (transactions, confirmations, vault) lives in a single JSON
// file; proving and verifying keys are created once by `setup`.
// -----------------------------------------------------------------------------
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"zkmultisig/internal/config"
	"zkmultisig/internal/logging"
)

type env struct {
	cfg        *config.Config
	configPath string
	log        zerolog.Logger
	out        io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = []command{
	{"setup", "compile the circuit and create proving/verifying keys", cmdSetup},
	{"keygen", "generate owner keys and print their commitments", cmdKeygen},
	{"init", "create a wallet from three commitments and a threshold", cmdInit},
	{"deposit", "fund the wallet vault", cmdDeposit},
	{"prove", "write a proof file for a new or pending transaction", cmdProve},
	{"submit", "submit a new transaction with the first confirmation", cmdSubmit},
	{"confirm", "add a confirmation to a pending transaction", cmdConfirm},
	{"execute", "execute a transaction that reached the threshold", cmdExecute},
	{"show", "print the wallet state", cmdShow},
	{"demo", "run a full 2-of-3 scenario in memory", cmdDemo},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("zkmultisig", flag.ContinueOnError)
	configPath := global.String("config", "zkmultisig.yaml", "path to the YAML configuration")
	global.Usage = func() { usage(global.Output()) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		usage(global.Output())
		return errors.New("missing command")
	}

	name := global.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage(global.Output())
		return fmt.Errorf("unknown command %q", name)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON})
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	e := &env{cfg: cfg, configPath: *configPath, log: log, out: out}
	return cmd.run(ctx, e, global.Args()[1:])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: zkmultisig [-config file] <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
}
