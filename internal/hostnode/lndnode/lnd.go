// Package lndnode implements hostnode.Node against a real lnd node over
// gRPC: channel opens go through lnrpc.Lightning, HTLC interception and
// resolution goes through routerrpc.Router's streaming HtlcInterceptor.
package lndnode

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/routerrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/lspjitd/lspjitd/internal/hostnode"
	"github.com/lspjitd/lspjitd/internal/identity"
	"github.com/lspjitd/lspjitd/pkg/logger"
)

// Config is the connection configuration for one lnd node, populated
// from config.LNDConfig.
type Config struct {
	GRPCHost     string
	GRPCPort     string
	TLSCertPath  string
	MacaroonPath string
}

type macaroonCredential struct {
	macaroon string
}

func (m macaroonCredential) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"macaroon": m.macaroon}, nil
}

func (m macaroonCredential) RequireTransportSecurity() bool {
	return true
}

// Client is a hostnode.Node backed by a live lnd gRPC connection.
type Client struct {
	conn         *grpc.ClientConn
	lnClient     lnrpc.LightningClient
	routerClient routerrpc.RouterClient
	cfg          Config

	mu              sync.Mutex
	interceptStream routerrpc.Router_HtlcInterceptorClient
}

var _ hostnode.Node = (*Client)(nil)

// NewClient dials lnd over TLS with macaroon authentication and
// validates the connection with a GetInfo call, failing fast if lnd is
// unreachable, its wallet is locked, or the credentials are wrong.
func NewClient(cfg Config) (*Client, error) {
	creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("lndnode: could not load tls cert from %s: %w", cfg.TLSCertPath, err)
	}

	macBytes, err := os.ReadFile(cfg.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("lndnode: failed to read macaroon file %s: %w", cfg.MacaroonPath, err)
	}
	macCreds := macaroonCredential{macaroon: hex.EncodeToString(macBytes)}

	target := cfg.GRPCHost + ":" + cfg.GRPCPort
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds), grpc.WithPerRPCCredentials(macCreds))
	if err != nil {
		return nil, fmt.Errorf("lndnode: could not dial %s: %w", target, err)
	}

	lnClient := lnrpc.NewLightningClient(conn)
	info, err := lnClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("lndnode: failed to connect to lnd at %s: %w", target, err)
	}

	logger.Info("connected to lnd node",
		zap.String("alias", info.Alias),
		zap.String("pubkey", info.IdentityPubkey),
		zap.Bool("synced_to_chain", info.SyncedToChain),
	)

	return &Client{
		conn:         conn,
		lnClient:     lnClient,
		routerClient: routerrpc.NewRouterClient(conn),
		cfg:          cfg,
	}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// OpenChannel funds and broadcasts a channel to req.Peer, pushing
// req.PushMsat worth of initial balance to the client so the payment
// that justified the open can actually route across it.
func (c *Client) OpenChannel(ctx context.Context, req hostnode.OpenChannelRequest) (identity.ChannelId, error) {
	resp, err := c.lnClient.OpenChannelSync(ctx, &lnrpc.OpenChannelRequest{
		NodePubkey:         req.Peer.SerializeCompressed(),
		LocalFundingAmount: req.CapacitySat,
		PushSat:            req.PushMsat / 1000,
	})
	if err != nil {
		return identity.ChannelId{}, fmt.Errorf("lndnode: open channel to peer failed: %w", err)
	}

	hash, err := chainhash.NewHash(resp.GetFundingTxidBytes())
	if err != nil {
		return identity.ChannelId{}, fmt.Errorf("lndnode: malformed funding txid: %w", err)
	}
	return *hash, nil
}

// RunHTLCInterceptor opens the streaming HtlcInterceptor RPC and invokes
// onIntercept for every inbound HTLC lnd hands us a routing decision on,
// until ctx is canceled or the stream errors. Only one interceptor
// stream may be active at a time, since ForwardHTLC/FailHTLC resolve
// against whichever stream this call last installed.
func (c *Client) RunHTLCInterceptor(ctx context.Context, onIntercept func(scid uint64, interceptId string, inboundAmountMsat, expectedOutboundAmountMsat uint64)) error {
	stream, err := c.routerClient.HtlcInterceptor(ctx)
	if err != nil {
		return fmt.Errorf("lndnode: could not open htlc interceptor stream: %w", err)
	}

	c.mu.Lock()
	c.interceptStream = stream
	c.mu.Unlock()

	for {
		in, err := stream.Recv()
		if err != nil {
			return fmt.Errorf("lndnode: htlc interceptor stream closed: %w", err)
		}

		interceptId := formatCircuitKey(in.GetIncomingCircuitKey())
		onIntercept(in.GetOutgoingRequestedChanId(), interceptId, in.GetIncomingAmountMsat(), in.GetOutgoingAmountMsat())
	}
}

// ForwardHTLC resumes the intercepted HTLC identified by interceptId,
// releasing it onward. channelId is accepted for interface symmetry with
// hostnode.Node; lnd resolves interception purely by circuit key.
func (c *Client) ForwardHTLC(ctx context.Context, interceptId string, channelId identity.ChannelId, amountMsat uint64) error {
	_ = channelId
	_ = amountMsat
	key, err := parseCircuitKey(interceptId)
	if err != nil {
		return err
	}
	return c.resolve(&routerrpc.ForwardHtlcInterceptResponse{
		IncomingCircuitKey: key,
		Action:             routerrpc.ResolveHoldForwardAction_RESUME,
	})
}

// FailHTLC fails the intercepted HTLC identified by interceptId back to
// the sender.
func (c *Client) FailHTLC(ctx context.Context, interceptId string) error {
	key, err := parseCircuitKey(interceptId)
	if err != nil {
		return err
	}
	return c.resolve(&routerrpc.ForwardHtlcInterceptResponse{
		IncomingCircuitKey: key,
		Action:             routerrpc.ResolveHoldForwardAction_FAIL,
	})
}

func (c *Client) resolve(resp *routerrpc.ForwardHtlcInterceptResponse) error {
	c.mu.Lock()
	stream := c.interceptStream
	c.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("lndnode: no active htlc interceptor stream")
	}
	if err := stream.Send(resp); err != nil {
		return fmt.Errorf("lndnode: failed to resolve intercepted htlc: %w", err)
	}
	return nil
}

// formatCircuitKey and parseCircuitKey round-trip lnd's
// (chan_id, htlc_id) circuit key through the opaque string identifier
// hostnode.Node's interface uses, so lsps2.Manager never needs to know
// lnd's wire types.
func formatCircuitKey(key *routerrpc.CircuitKey) string {
	if key == nil {
		return ""
	}
	return strconv.FormatUint(key.GetChanId(), 10) + ":" + strconv.FormatUint(key.GetHtlcId(), 10)
}

func parseCircuitKey(s string) (*routerrpc.CircuitKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("lndnode: malformed intercept id %q", s)
	}
	chanId, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lndnode: malformed intercept id %q: %w", s, err)
	}
	htlcId, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lndnode: malformed intercept id %q: %w", s, err)
	}
	return &routerrpc.CircuitKey{ChanId: chanId, HtlcId: htlcId}, nil
}
