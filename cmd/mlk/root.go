package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"megafon"
	"megafon/anticaptcha"
)

// globalConfig holds the flags shared by every subcommand.
type globalConfig struct {
	login              string
	password           string
	proxy              string
	provider           string
	captchaKey         string
	maxCaptchaAttempts int
	logFormat          string
	verbose            bool
}

// NewRootCmd creates the root command for the mlk CLI.
func NewRootCmd() *cobra.Command {
	cfg := &globalConfig{}

	cmd := &cobra.Command{
		Use:   "mlk",
		Short: "MegaFon personal cabinet client",
		Long: `mlk logs in to the MegaFon personal cabinet, solving login captchas
through an anti-captcha service, and runs account operations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	maxAttempts, _ := strconv.Atoi(envOr("MLK_MAX_CAPTCHA_ATTEMPTS", "0"))

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfg.login, "login", os.Getenv("MLK_LOGIN"), "subscriber number")
	flags.StringVar(&cfg.password, "password", os.Getenv("MLK_PASSWORD"), "cabinet password")
	flags.StringVar(&cfg.proxy, "proxy", os.Getenv("MLK_PROXY"), "proxy (host:port[:user:pass] or URL)")
	flags.StringVar(&cfg.provider, "captcha-provider", envOr("ANTICAPTCHA_PROVIDER", "anti-captcha"), "anti-captcha, 2captcha or capsolver")
	flags.StringVar(&cfg.captchaKey, "captcha-key", GetCaptchaAPIKey(), "captcha service API key")
	flags.IntVar(&cfg.maxCaptchaAttempts, "max-captcha-attempts", maxAttempts, "captchas to solve per login, 0 for no limit")
	flags.StringVar(&cfg.logFormat, "log-format", envOr("MLK_LOG_FORMAT", "text"), "log format: text or json")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every request")

	cmd.AddCommand(newLoginCmd(cfg))
	cmd.AddCommand(newBalanceCmd(cfg))
	cmd.AddCommand(newServicesCmd(cfg))
	cmd.AddCommand(newEnableCmd(cfg))
	cmd.AddCommand(newDisableCmd(cfg))
	cmd.AddCommand(newChangePasswordCmd(cfg))
	cmd.AddCommand(newTariffsCmd(cfg))
	cmd.AddCommand(newTariffCmd(cfg))
	cmd.AddCommand(newChangeTariffCmd(cfg))
	cmd.AddCommand(newBatchCmd(cfg))

	return cmd
}

func newLogger(cfg *globalConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.verbose {
		opts.Level = slog.LevelDebug
	}
	if cfg.logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newSolver(cfg *globalConfig) (*anticaptcha.Client, error) {
	if cfg.captchaKey == "" {
		return nil, fmt.Errorf("no captcha key configured: set ANTICAPTCHA_KEY or --captcha-key")
	}
	baseURL, ok := anticaptcha.Providers[cfg.provider]
	if !ok {
		return nil, fmt.Errorf("unknown captcha provider %q", cfg.provider)
	}
	return anticaptcha.New(cfg.captchaKey, anticaptcha.WithBaseURL(baseURL)), nil
}

func newService(cfg *globalConfig, logger *slog.Logger, solver megafon.ImageSolver, proxyURL string) (*megafon.Service, error) {
	transport, err := megafon.DefaultTransport(proxyURL, megafon.WithTransportLogger(logger))
	if err != nil {
		return nil, err
	}
	return megafon.NewService(megafon.NewPortalCaptcha(solver),
		megafon.WithTransport(transport),
		megafon.WithLogger(logger),
		megafon.WithMaxCaptchaAttempts(cfg.maxCaptchaAttempts),
	)
}

func proxyFromConfig(cfg *globalConfig) (string, error) {
	if cfg.proxy == "" {
		return "", nil
	}
	proxyURL, _, ok := megafon.ParseProxy(cfg.proxy)
	if !ok {
		return "", fmt.Errorf("invalid proxy %q", cfg.proxy)
	}
	return proxyURL, nil
}

// sessionFunc runs against an authenticated service and returns what to print.
type sessionFunc func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error)

// runWithSession logs in with the global credentials, then runs fn.
func runWithSession(cmd *cobra.Command, cfg *globalConfig, fn sessionFunc) error {
	if cfg.login == "" || cfg.password == "" {
		return fmt.Errorf("login and password are required: set MLK_LOGIN/MLK_PASSWORD or the flags")
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	solver, err := newSolver(cfg)
	if err != nil {
		return err
	}
	proxyURL, err := proxyFromConfig(cfg)
	if err != nil {
		return err
	}
	svc, err := newService(cfg, logger, solver, proxyURL)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	profile, err := svc.Authenticate(ctx, cfg.login, cfg.password, "")
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	result := profile
	if fn != nil {
		if result, err = fn(ctx, svc); err != nil {
			return err
		}
	}
	return printAnswer(cmd.OutOrStdout(), result)
}

func printAnswer(w io.Writer, a *megafon.Answer) error {
	if a == nil {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, a.Raw(), "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func newLoginCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in and print the subscriber profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSession(cmd, cfg, nil)
		},
	}
}

func newBalanceCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return svc.Balance(ctx)
			})
		},
	}
}

func newServicesCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the options attached to the subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return svc.Services(ctx)
			})
		},
	}
}

func newEnableCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <service-id>",
		Short: "Enable an option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return nil, svc.EnableService(ctx, args[0])
			})
		},
	}
}

func newDisableCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <service-id>",
		Short: "Disable an option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return nil, svc.DisableService(ctx, args[0])
			})
		},
	}
}

func newChangePasswordCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "change-password <new-password>",
		Short: "Change the cabinet password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return nil, svc.ChangePassword(ctx, cfg.password, args[0])
			})
		},
	}
}

func newTariffsCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "tariffs",
		Short: "List available tariffs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return svc.Tariffs(ctx)
			})
		},
	}
}

func newTariffCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "tariff <tariff-id>",
		Short: "Show tariff details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return svc.Tariff(ctx, args[0])
			})
		},
	}
}

func newChangeTariffCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "change-tariff <tariff-id>",
		Short: "Switch to another tariff",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, cfg, func(ctx context.Context, svc *megafon.Service) (*megafon.Answer, error) {
				return nil, svc.ChangeTariff(ctx, args[0])
			})
		},
	}
}

// batchConfig holds configuration for the batch command.
type batchConfig struct {
	workers     int
	proxiesFile string
	stagger     time.Duration
}

func newBatchCmd(cfg *globalConfig) *cobra.Command {
	bcfg := &batchConfig{}

	cmd := &cobra.Command{
		Use:   "batch <accounts-file>",
		Short: "Check balances of many accounts (one login:password per line)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, cfg, bcfg, args[0])
		},
	}

	cmd.Flags().IntVarP(&bcfg.workers, "workers", "w", 4, "concurrent workers")
	cmd.Flags().StringVar(&bcfg.proxiesFile, "proxies", "", "file with one proxy per line")
	cmd.Flags().DurationVar(&bcfg.stagger, "stagger", 50*time.Millisecond, "delay between worker starts")

	return cmd
}

// readAccounts parses login:password lines, skipping blanks and # comments.
func readAccounts(r io.Reader) ([]megafon.Account, error) {
	var accounts []megafon.Account
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		login, password, ok := strings.Cut(line, ":")
		if !ok || login == "" || password == "" {
			return nil, fmt.Errorf("line %d: expected login:password", lineNum)
		}
		accounts = append(accounts, megafon.Account{Login: login, Password: password})
	}
	return accounts, scanner.Err()
}

func runBatch(cmd *cobra.Command, cfg *globalConfig, bcfg *batchConfig, accountsFile string) error {
	file, err := os.Open(accountsFile)
	if err != nil {
		return fmt.Errorf("failed to open accounts file: %w", err)
	}
	accounts, err := readAccounts(file)
	file.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", accountsFile, err)
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	solver, err := newSolver(cfg)
	if err != nil {
		return err
	}

	var proxies *megafon.ProxyPool
	if bcfg.proxiesFile != "" {
		if proxies, err = megafon.LoadProxyPool(bcfg.proxiesFile); err != nil {
			return err
		}
		logger.Info("loaded proxies", "count", proxies.Count())
	}

	factory := func(proxyURL string) (*megafon.Service, error) {
		return newService(cfg, logger, solver, proxyURL)
	}
	runner, err := megafon.NewBatchRunner(bcfg.workers, factory, proxies, bcfg.stagger, logger)
	if err != nil {
		return err
	}

	logger.Info("starting batch", "accounts", len(accounts), "workers", runner.WorkerCount())
	runner.Start(cmd.Context())

	go func() {
		defer runner.Close()
		for _, acc := range accounts {
			if !runner.Submit(acc) {
				return
			}
		}
	}()

	out := cmd.OutOrStdout()
	var ok, failed int
	for result := range runner.Results() {
		switch {
		case result.Fatal:
			continue
		case result.Error != nil:
			failed++
			fmt.Fprintf(out, "%s\tERROR\t%v\n", result.Login, result.Error)
		default:
			ok++
			balance, _ := result.Balance.Float("balance")
			fmt.Fprintf(out, "%s\t%.2f\n", result.Login, balance)
		}
	}

	if err := runner.Err(); err != nil {
		return fmt.Errorf("batch aborted after %d accounts: %w", ok+failed, err)
	}
	logger.Info("batch complete", "ok", ok, "failed", failed)
	return nil
}
