package hotreload

import (
	"context"
	"io"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// BatchEvent is one observable moment in a reload batch's life.
type BatchEvent byte

const (
	BatchStarted BatchEvent = iota
	BatchFinished
)

// Notifier lets a Full coordinator announce batch boundaries to
// observers. It never drives reload across a process boundary — a
// peer that receives an announcement only knows "a batch started or
// finished somewhere", used to avoid double-building a shared
// workspace mount from two engine instances at once. batchID
// correlates the started/finished pair of a single reload batch; it is
// a globally unique, never-interned token per SPEC_FULL.md §2, minted
// with uuid.New().
type Notifier interface {
	Announce(event BatchEvent, batchID string)
}

const protocolID = "/forge-engine/hotreload/1.0.0"

// MeshNotifier broadcasts batch events over libp2p streams to a fixed
// set of peer addresses, grounded on the teacher's
// internal/network/mesh.go StartNodeWithStreams/SendPacket pair (a
// libp2p host with one stream-per-message protocol handler),
// repointed from arbitrary packet RPC to a one-byte batch-event
// broadcast.
type MeshNotifier struct {
	host   libp2phost.Host
	logger *zap.Logger

	mu    sync.Mutex
	peers []ma.Multiaddr
}

// NewMeshNotifier starts a libp2p host with an ephemeral identity and
// registers the hot-reload stream handler. peerAddrs are the
// multiaddrs of other engine instances sharing this workspace mount.
func NewMeshNotifier(ctx context.Context, peerAddrs []string, logger *zap.Logger) (*MeshNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	host, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return nil, err
	}

	n := &MeshNotifier{host: host, logger: logger}
	host.SetStreamHandler(protocolID, n.handleStream)

	for _, addr := range peerAddrs {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			logger.Warn("hotreload: invalid peer address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		n.peers = append(n.peers, maddr)
	}
	return n, nil
}

func (n *MeshNotifier) handleStream(s network.Stream) {
	defer s.Close()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(s, buf); err != nil {
		return
	}
	idBuf, err := io.ReadAll(s)
	if err != nil {
		return
	}
	n.logger.Info("hotreload: observed remote batch event",
		zap.Uint8("event", buf[0]), zap.String("batch_id", string(idBuf)))
}

// Announce broadcasts event and its batch id to every configured peer.
// Connection failures are logged and otherwise ignored: missing an
// announcement only costs a peer a redundant rebuild, never
// correctness, since the coordinator that actually owns the reload
// never blocks on this.
func (n *MeshNotifier) Announce(event BatchEvent, batchID string) {
	ctx := context.Background()
	n.mu.Lock()
	peers := append([]ma.Multiaddr(nil), n.peers...)
	n.mu.Unlock()

	for _, addr := range peers {
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			n.logger.Warn("hotreload: bad peer multiaddr", zap.Error(err))
			continue
		}
		if err := n.host.Connect(ctx, *info); err != nil {
			n.logger.Warn("hotreload: peer connect failed", zap.String("peer", info.ID.String()), zap.Error(err))
			continue
		}
		stream, err := n.host.NewStream(ctx, info.ID, protocolID)
		if err != nil {
			n.logger.Warn("hotreload: stream open failed", zap.String("peer", info.ID.String()), zap.Error(err))
			continue
		}
		_, _ = stream.Write(append([]byte{byte(event)}, batchID...))
		stream.Close()
	}
}

// Close shuts down the underlying libp2p host.
func (n *MeshNotifier) Close() error {
	return n.host.Close()
}

var _ Notifier = (*MeshNotifier)(nil)
