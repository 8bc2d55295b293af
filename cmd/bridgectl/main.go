package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnibridge/cmd/internal/passphrase"
	"omnibridge/config"
	"omnibridge/native/mediator"
	"omnibridge/services/mediatord/index"
	"omnibridge/services/mediatord/server"
)

const (
	initCommand     = "init"
	validateCommand = "validate"
	tokenCommand    = "token"
	exportCommand   = "export"
	defaultConfig   = "./bridge.toml"
	defaultSecret   = "MEDIATORD_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case initCommand:
		err = runInit(os.Args[2:])
	case validateCommand:
		err = runValidate(os.Args[2:])
	case tokenCommand:
		err = runToken(os.Args[2:])
	case exportCommand:
		err = runExport(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet(initCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path of the bridge config file to create")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		return fmt.Errorf("config %s already exists", *configPath)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for network %s\n", *configPath, cfg.NetworkName)
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet(validateCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the bridge config file")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}
	for _, side := range []mediator.Side{mediator.Home, mediator.Foreign} {
		mcfg, err := cfg.MediatorConfig(side)
		if err != nil {
			return err
		}
		section := cfg.SideConfig(side)
		fmt.Printf("%-8s chain=%s(%d) mediator=%s counterpart=%s owner=%s daily=%s max_per_tx=%s min_per_tx=%s\n",
			side, section.ChainName, section.ChainID, section.Mediator, mcfg.Counterpart.Hex(), mcfg.Owner.Hex(),
			mcfg.Limits.DailyLimit, mcfg.Limits.MaxPerTx, mcfg.Limits.MinPerTx)
	}
	fmt.Println("config ok")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ExitOnError)
	subject := fs.String("subject", "", "Account address the admin calls are made from")
	issuer := fs.String("issuer", "omnibridge", "Token issuer")
	audience := fs.String("audience", "mediatord", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecret, "Environment variable holding the signing secret")
	fs.Parse(args)

	raw := strings.TrimSpace(*subject)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("-subject must be an account address")
	}
	secret, err := passphrase.NewSource(*secretEnv, "admin signing secret").Get()
	if err != nil {
		return err
	}
	token, err := server.IssueAdminToken(secret, common.HexToAddress(raw), *issuer, *audience, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet(exportCommand, flag.ExitOnError)
	dsn := fs.String("dsn", "file:./data/mediatord/index.db", "Message index DSN (sqlite path or postgres URL)")
	out := fs.String("out", "./exports", "Directory the CSV and Parquet files are written to")
	name := fs.String("name", "", "Base file name; defaults to a timestamp")
	status := fs.String("status", "", "Only export messages in this status (PENDING, EXECUTED, FAILED, FIXED)")
	chain := fs.String("chain", "", "Only export messages sent from this chain")
	tokenAddr := fs.String("token", "", "Only export transfers of this token")
	since := fs.String("since", "", "Only export messages created at or after this RFC3339 time")
	fs.Parse(args)

	filter := index.ExportFilter{
		Chain:  strings.TrimSpace(*chain),
		Status: strings.TrimSpace(*status),
	}
	if raw := strings.TrimSpace(*tokenAddr); raw != "" {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("-token must be an address")
		}
		filter.Token = common.HexToAddress(raw).Hex()
	}
	if raw := strings.TrimSpace(*since); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("-since: %w", err)
		}
		filter.Since = ts
	}

	idx, err := index.Open(*dsn, nil)
	if err != nil {
		return err
	}
	defer idx.Close()
	result, err := idx.Export(context.Background(), *out, *name, filter)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d messages\n  %s\n  %s\n", result.Rows, result.CSVPath, result.ParquetPath)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintf(os.Stderr, "  %s      Write a default bridge config\n", initCommand)
	fmt.Fprintf(os.Stderr, "  %s  Check a bridge config and print both sides\n", validateCommand)
	fmt.Fprintf(os.Stderr, "  %s     Sign an admin bearer token for mediatord\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %s    Write indexed messages as CSV and Parquet\n", exportCommand)
}
