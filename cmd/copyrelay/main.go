package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"poly-copyrelay/internal/clob"
	"poly-copyrelay/internal/config"
	"poly-copyrelay/internal/dotenv"
	"poly-copyrelay/internal/engine"
	"poly-copyrelay/internal/gamma"
	"poly-copyrelay/internal/jsonl"
	"poly-copyrelay/internal/metadata"
	"poly-copyrelay/internal/notify"
	"poly-copyrelay/internal/polygonutil"
	"poly-copyrelay/internal/session"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config (optional; COPYRELAY_* env vars override)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	live := !sessCfg.Trade.DryRun
	var clobClient *clob.Client
	signerHex := ""
	if live {
		clobClient = mustClobClient(ctx, cfg)
		signerHex = clobClient.SignerAddress().Hex()
		runPreflight(ctx, cfg, sessCfg, clobClient.FunderAddress())
	} else {
		log.Printf("dry run: orders are simulated, no signing key required")
	}

	var notifier notify.Notifier = notify.LogSink{}
	if strings.TrimSpace(cfg.Telegram.BotToken) != "" {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Fatalf("[fatal] telegram: %v", err)
		}
		notifier = tg
		log.Printf("Notifications: telegram chat %s", cfg.Telegram.ChatID)
	} else {
		log.Printf("Notifications: log only (no telegram bot token)")
	}

	journal, err := jsonl.Open(cfg.Journal)
	if err != nil {
		log.Fatalf("[fatal] open journal %s: %v", cfg.Journal, err)
	}
	if journal != nil {
		log.Printf("Journal: %s (JSONL)", cfg.Journal)
		defer func() {
			if err := journal.Close(); err != nil {
				log.Printf("[warn] journal close: %v", err)
			}
		}()
	}

	gammaClient, err := gamma.NewClient(cfg.Gamma.APIBaseURL)
	if err != nil {
		log.Fatalf("[fatal] gamma: %v", err)
	}
	resolver := metadata.NewResolver(gammaClient)

	exec := engine.NewExecutor(clobClient, resolver, signerHex)
	manager := session.NewManager(exec, notifier, journal, nil)

	id, err := manager.Start(sessCfg)
	if err != nil {
		log.Fatalf("[fatal] start session: %v", err)
	}
	log.Printf("Copy relay session %s: leader=%s orderType=%s dryRun=%v",
		id, sessCfg.Leader.Hex(), sessCfg.Trade.OrderType, sessCfg.Trade.DryRun)

	<-ctx.Done()
	log.Printf("shutting down")
	manager.Stop()
}

func mustClobClient(ctx context.Context, cfg *config.Config) *clob.Client {
	pkHex := strings.TrimPrefix(strings.TrimSpace(cfg.Clob.PrivateKey), "0x")
	if pkHex == "" {
		log.Fatalf("[fatal] live mode requires clob.private_key (or COPYRELAY_CLOB_PRIVATE_KEY)")
	}
	key, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		log.Fatalf("[fatal] parse private key: %v", err)
	}

	funder := common.Address{}
	if f := strings.TrimSpace(cfg.Clob.Funder); f != "" {
		if !common.IsHexAddress(f) {
			log.Fatalf("[fatal] clob.funder: invalid address %q", f)
		}
		funder = common.HexToAddress(f)
	}

	client, err := clob.NewClient(cfg.Clob.Host, cfg.Clob.ChainID, key, funder, cfg.Clob.SignatureType)
	if err != nil {
		log.Fatalf("[fatal] clob client: %v", err)
	}
	log.Printf("CLOB: host=%s signer=%s funder=%s sigType=%d",
		cfg.Clob.Host, client.SignerAddress().Hex(), client.FunderAddress().Hex(), cfg.Clob.SignatureType)

	if cfg.Clob.APIKey != "" && cfg.Clob.APISecret != "" && cfg.Clob.APIPassphrase != "" {
		client.SetApiCreds(clob.ApiKeyCreds{
			Key:        cfg.Clob.APIKey,
			Secret:     cfg.Clob.APISecret,
			Passphrase: cfg.Clob.APIPassphrase,
		})
		return client
	}

	bctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	creds, err := client.CreateOrDeriveApiKey(bctx, cfg.Clob.APINonce, true)
	if err != nil {
		log.Fatalf("[fatal] derive api creds: %v", err)
	}
	client.SetApiCreds(creds)
	log.Printf("CLOB api creds derived for %s", client.SignerAddress().Hex())
	return client
}

func runPreflight(ctx context.Context, cfg *config.Config, sessCfg session.Config, funder common.Address) {
	rpcURL := strings.TrimSpace(cfg.Polygon.RPCURL)
	if rpcURL == "" {
		log.Printf("[warn] polygon.rpc_url not set, skipping USDC preflight")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	report, err := polygonutil.Preflight(pctx, rpcURL, funder)
	if err != nil {
		log.Printf("[warn] usdc preflight: %v", err)
		return
	}

	balance := decimal.New(int64(report.BalanceMicros), -int32(polygonutil.USDCTokenDecimals))
	log.Printf("USDC balance: $%s", balance)

	if totalCap := sessCfg.Trade.TotalCap; totalCap.Sign() > 0 && totalCap.GreaterThan(balance) {
		log.Printf("[warn] session total cap $%s exceeds USDC balance $%s", totalCap, balance)
	}
	for _, addr := range report.ZeroAllowances() {
		log.Printf("[warn] USDC allowance for exchange %s is zero, orders will be rejected", addr.Hex())
	}
}
