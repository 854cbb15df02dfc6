package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pivot-protocol/walletcore/adapters/events"
	"github.com/pivot-protocol/walletcore/adapters/provider"
	"github.com/pivot-protocol/walletcore/adapters/rpc"
	"github.com/pivot-protocol/walletcore/adapters/store"
	"github.com/pivot-protocol/walletcore/adapters/tokenizer"
	"github.com/pivot-protocol/walletcore/config"
	"github.com/pivot-protocol/walletcore/metrics"
	"github.com/pivot-protocol/walletcore/ports"
	"github.com/pivot-protocol/walletcore/service"
	"github.com/pivot-protocol/walletcore/transport/http"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(os.Getenv("PIVOT_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	// Bearer tokens are signed with an ephemeral key; sessions themselves
	// survive restarts in redis.
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.WithError(err).Fatal("failed to generate signing key")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.WithError(err).Fatal("failed to parse redis url")
	}
	redisClient := redis.NewClient(opts)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redisClient},
		watermill.NewStdLogger(cfg.Debug, false),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to create event publisher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	defaultChain, _ := cfg.ChainByID(cfg.DefaultChain)
	reader, err := rpc.Dial(ctx, defaultChain.RPCURL)
	if err != nil {
		log.WithError(err).Fatal("failed to dial rpc endpoint")
	}
	defer reader.Close()

	sessionStore := store.NewRedisStore(redisClient)
	challengeStore := store.NewMemoryStore()
	eventPub := events.NewWatermillPublisher(publisher)
	bearer := tokenizer.NewJWTTokenizer(signKey)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var walletProvider ports.WalletProvider
	if rawKey := os.Getenv("PIVOT_SIGNER_KEY"); rawKey != "" {
		key, err := ethcrypto.HexToECDSA(rawKey)
		if err != nil {
			log.WithError(err).Fatal("failed to parse signer key")
		}
		keyWallet, err := provider.NewKeyWallet(key, cfg.Wallet.Label, cfg.Chains, cfg.DefaultChain)
		if err != nil {
			log.WithError(err).Fatal("failed to create key wallet")
		}
		walletProvider = keyWallet
		log.WithField("address", keyWallet.Address().Hex()).Info("key wallet loaded")
	} else {
		log.Warn("no signer key configured, wallet operations will be unavailable")
	}

	security := service.NewSecurityService(cfg.Security, log)
	auth := service.NewAuthService(sessionStore, challengeStore, eventPub, security, m, log,
		cfg.Wallet.SessionTTL, cfg.Wallet.ChallengeTTL)
	wallet := service.NewWalletService(walletProvider, reader, auth, security, eventPub, cfg, log)
	tx := service.NewTxService(walletProvider, reader, security, eventPub, m, log, cfg.Watcher)
	netmon := service.NewNetworkMonitor(reader, cfg.Monitor, m, log)

	if walletProvider != nil {
		netmon.SetReconnector(func(ctx context.Context) error {
			// A still-connected wallet only needs the follow-up probe; a lost
			// connection is re-established.
			if wallet.State().Connected {
				return nil
			}
			_, err := wallet.Connect(ctx)
			return err
		})
	}
	netmon.Start()

	if restored, err := wallet.Restore(ctx); err != nil {
		log.WithError(err).Warn("session restore failed")
	} else if restored {
		log.Info("session restored")
	}

	router := http.SetupRouter(auth, wallet, tx, netmon, bearer, registry, log)

	go func() {
		if err := router.Run(cfg.Server.Addr); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
	}()
	log.WithField("addr", cfg.Server.Addr).Info("server started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	netmon.Close()
	wallet.Close()
	tx.Close()
}
