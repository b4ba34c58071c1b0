// Command lspjitd runs a standalone LSPS0/LSPS2 liquidity service on
// top of a backing lnd node: it answers version/info/buy requests,
// opens just-in-time channels against intercepted HTLCs, and forwards
// the payment once the channel confirms.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/lspjitd/lspjitd/config"
	"github.com/lspjitd/lspjitd/internal/events"
	"github.com/lspjitd/lspjitd/internal/hostnode"
	"github.com/lspjitd/lspjitd/internal/hostnode/lndnode"
	"github.com/lspjitd/lspjitd/internal/liquidity"
	"github.com/lspjitd/lspjitd/internal/lsps2"
	"github.com/lspjitd/lspjitd/internal/persistence/postgres"
	"github.com/lspjitd/lspjitd/internal/persistence/redisstore"
	"github.com/lspjitd/lspjitd/internal/transport"
	"github.com/lspjitd/lspjitd/pkg/logger"
)

var Cfg config.ServiceConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filename)
	configPath := config.Path(root).Join("config.toml", "..", "..")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("lspjitd starting", zap.String("environment", Cfg.Environment))

	node, err := connectLND()
	if err != nil {
		return err
	}
	defer node.Close()

	idStore, closeIDStore, err := buildIDStore()
	if err != nil {
		return err
	}
	if closeIDStore != nil {
		defer closeIDStore()
	}

	auditDB, auditRepo, err := buildAuditLog()
	if err != nil {
		return err
	}
	if auditDB != nil {
		defer auditDB.Close()
	}

	jitCfg, scidAlloc, err := buildJITConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	facade := liquidity.New(liquidity.Config{
		LSPS0EnabledProtocols: []uint16{2},
		JITChannels:           jitCfg,
		IDStore:               idStore,
	}, hostnode.ChannelActions{Node: node, Ctx: ctx})

	if jitCfg != nil {
		go runEventLoop(ctx, facade, node, scidAlloc, auditRepo)
		go runHTLCInterceptor(ctx, node, facade)
	}

	logger.Info("lspjitd ready")
	<-ctx.Done()
	return nil
}

func connectLND() (*lndnode.Client, error) {
	cfg := lndnode.Config{
		GRPCHost:     Cfg.LND.GRPCHost,
		GRPCPort:     Cfg.LND.GRPCPort,
		TLSCertPath:  Cfg.LND.TLSCertPath,
		MacaroonPath: Cfg.LND.MacaroonPath,
	}
	client, err := lndnode.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lnd: %w", err)
	}
	return client, nil
}

// buildIDStore wires the Redis-backed request-id store when configured,
// falling back to the in-process default the facade uses on its own
// when it returns a nil store.
func buildIDStore() (transport.IDStore, func(), error) {
	if !Cfg.Redis.Enabled {
		return nil, nil, nil
	}

	var redisCfg redisstore.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return nil, nil, fmt.Errorf("failed to copy redis config: %w", err)
	}

	store, err := redisstore.New(redisCfg, "lspjitd:reqid:", 5*time.Minute)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis request-id store: %w", err)
	}

	return store, func() { _ = store.Close() }, nil
}

func buildAuditLog() (*postgres.DB, *postgres.NegotiationRepository, error) {
	if !Cfg.Database.Enabled {
		return nil, nil, nil
	}

	var dbCfg postgres.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return nil, nil, fmt.Errorf("failed to copy audit log database config: %w", err)
	}

	_, filename, _, _ := runtime.Caller(0)
	migrationsPath := filepath.Join(filepath.Dir(filename), "..", "..", "internal", "persistence", "postgres", "migrations")

	db, err := postgres.New(dbCfg, migrationsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to audit log database: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run audit log migrations: %w", err)
	}

	return db, postgres.NewNegotiationRepository(db), nil
}

func buildJITConfig() (*lsps2.Config, *scidAllocator, error) {
	if !Cfg.JITChannels.Enabled {
		logger.Info("jit channels disabled")
		return nil, nil, nil
	}

	secretBytes, err := hex.DecodeString(Cfg.JITChannels.PromiseSecretHex)
	if err != nil || len(secretBytes) != 32 {
		return nil, nil, fmt.Errorf("jit channels: promise secret must be 32 bytes hex-encoded")
	}
	var secret [32]byte
	copy(secret[:], secretBytes)

	cfg := &lsps2.Config{
		PromiseSecret:      secret,
		MinPaymentSizeMsat: Cfg.JITChannels.MinPaymentSizeMsat,
		MaxPaymentSizeMsat: Cfg.JITChannels.MaxPaymentSizeMsat,
		SupportedVersions:  []uint16{1},
	}

	return cfg, newSCIDAllocator(), nil
}

// defaultOffer builds this daemon's single advertised opening-fee-params
// offer from config, per call so ValidUntil always reflects "now".
func defaultOffer() lsps2.RawOpeningFeeParams {
	return lsps2.RawOpeningFeeParams{
		MinFeeMsat:           Cfg.JITChannels.DefaultMinFeeMsat,
		Proportional:         Cfg.JITChannels.DefaultProportional,
		ValidUntil:           time.Now().Add(time.Duration(Cfg.JITChannels.DefaultValidityMinutes) * time.Minute),
		MinLifetime:          Cfg.JITChannels.DefaultMinLifetime,
		MaxClientToSelfDelay: Cfg.JITChannels.DefaultMaxClientToSelfDelay,
	}
}

// scidAllocator hands out unique fake short channel ids for jit channel
// offers that have not opened a real channel yet, using a block number
// far beyond any real chain tip so they can never collide with a
// genuine on-chain SCID per LSPS2 convention.
type scidAllocator struct {
	next atomic.Uint64
}

func newSCIDAllocator() *scidAllocator {
	a := &scidAllocator{}
	a.next.Store(1)
	return a
}

const fakeSCIDBlock = 0xFFFFFF // max 24-bit block, reserved for fake scids

func (a *scidAllocator) Allocate() uint64 {
	txIndex := a.next.Add(1)
	return uint64(fakeSCIDBlock)<<40 | (txIndex&0xFFFFFF)<<16
}

func runEventLoop(ctx context.Context, facade *liquidity.Facade, node hostnode.Node, scidAlloc *scidAllocator, audit *postgres.NegotiationRepository) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		evt := facade.WaitNextEvent()
		switch e := evt.(type) {
		case events.GetInfo:
			handleGetInfo(facade, e, audit)
		case events.BuyRequest:
			handleBuyRequest(facade, e, scidAlloc, audit)
		case events.OpenChannel:
			handleOpenChannel(ctx, facade, node, e, audit)
		case events.LSPFailure:
			logger.Warn("jit negotiation failed", zap.String("reason", e.Reason))
		case events.ClientFailure:
			logger.Warn("jit negotiation failed on client side", zap.String("reason", e.Reason))
		}
	}
}

func handleGetInfo(facade *liquidity.Facade, e events.GetInfo, audit *postgres.NegotiationRepository) {
	if err := facade.OpeningFeeParamsGenerated(e.Peer, e.RequestId, []lsps2.RawOpeningFeeParams{defaultOffer()}); err != nil {
		logger.Error("failed to answer get_info", zap.Error(err))
	}
}

func handleBuyRequest(facade *liquidity.Facade, e events.BuyRequest, scidAlloc *scidAllocator, audit *postgres.NegotiationRepository) {
	scid := scidAlloc.Allocate()
	if err := facade.InvoiceParametersGenerated(e.Peer, e.RequestId, scid, Cfg.JITChannels.DefaultMinLifetime, true); err != nil {
		logger.Error("failed to answer buy request", zap.Error(err))
		return
	}
	if audit != nil {
		logger.Debug("scid allocated for buy request", zap.Uint64("scid", scid))
	}
}

// handleOpenChannel opens the real backing channel for a cleared HTLC.
// UserChannelId is the earliest point a negotiation can be keyed for the
// audit log, so the record is created here and closed out once the open
// succeeds or fails.
func handleOpenChannel(ctx context.Context, facade *liquidity.Facade, node hostnode.Node, e events.OpenChannel, audit *postgres.NegotiationRepository) {
	if audit != nil {
		err := audit.Create(ctx, &postgres.Negotiation{
			UserChannelID: e.UserChannelId,
			PeerPubkey:    hex.EncodeToString(e.Peer.SerializeCompressed()),
			State:         "opening_channel",
			FeeMsat:       &e.FeeMsat,
			AmountMsat:    &e.AmountMsat,
			CreatedAt:     time.Now(),
		})
		if err != nil {
			logger.Error("failed to record negotiation audit entry", zap.Error(err))
		}
	}

	channelId, err := node.OpenChannel(ctx, hostnode.OpenChannelRequest{
		Peer:          e.Peer,
		UserChannelId: e.UserChannelId,
		PushMsat:      int64(e.AmountMsat),
		CapacitySat:   Cfg.JITChannels.ChannelCapacitySat,
	})
	if err != nil {
		logger.Error("failed to open jit channel", zap.Error(err))
		if audit != nil {
			reason := err.Error()
			if cErr := audit.Complete(ctx, e.UserChannelId, "failed", &reason, time.Now()); cErr != nil {
				logger.Error("failed to record negotiation failure", zap.Error(cErr))
			}
		}
		return
	}

	if err := facade.ChannelReady(e.UserChannelId, channelId); err != nil {
		logger.Error("failed to notify channel ready", zap.Error(err))
	}

	if audit != nil {
		if cErr := audit.Complete(ctx, e.UserChannelId, "channel_opened", nil, time.Now()); cErr != nil {
			logger.Error("failed to record negotiation completion", zap.Error(cErr))
		}
	}
}

func runHTLCInterceptor(ctx context.Context, node *lndnode.Client, facade *liquidity.Facade) {
	err := node.RunHTLCInterceptor(ctx, func(scid uint64, interceptId string, inboundAmountMsat, expectedOutboundAmountMsat uint64) {
		if err := facade.HtlcIntercepted(scid, interceptId, inboundAmountMsat, expectedOutboundAmountMsat); err != nil {
			logger.Error("failed to process intercepted htlc", zap.Error(err))
		}
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("htlc interceptor stream ended", zap.Error(err))
	}
}
