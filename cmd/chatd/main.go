package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/code3hr/cyxchat-sub000/pkg/api"
	"github.com/code3hr/cyxchat-sub000/pkg/crypto"
	"github.com/code3hr/cyxchat-sub000/pkg/engine"
	"github.com/code3hr/cyxchat-sub000/pkg/protocol"
)

const (
	defaultDataDir    = "./data"
	defaultAPIPort    = 8087
	pollInterval      = 100 * time.Millisecond
	heartbeatInterval = 30 * time.Second
)

var (
	dataDir     = flag.String("data", defaultDataDir, "Directory for keys, queues and spool files")
	apiPort     = flag.Int("api-port", defaultAPIPort, "Diagnostics API port (0 disables)")
	lossPercent = flag.Int("loss", 20, "Percent of packets the demo wire drops")
	msgInterval = flag.Duration("interval", 3*time.Second, "Delay between demo messages")
	sendFile    = flag.String("file", "", "File alice transfers to bob after startup")
	parity      = flag.Int("parity", 2, "Reed-Solomon parity chunks for the file demo")
)

// node is one engine plus the channel its thread drains. All engine
// access, inbound packets included, goes through the runner channel
// and executes on the node's own goroutine.
type node struct {
	name   string
	eng    *engine.Engine
	runner chan func()
}

// do schedules fn onto the node's engine thread. When the channel is
// full the work is dropped, which for the demo wire doubles as
// congestion loss.
func (n *node) do(fn func()) bool {
	select {
	case n.runner <- fn:
		return true
	default:
		return false
	}
}

// loop drains the runner channel and drives Poll until the context
// ends
func (n *node) loop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-n.runner:
			fn()
		case <-ticker.C:
			n.eng.Poll()
		}
	}
}

// lossyWire is an in-process transport that delivers packets into the
// peer node's runner channel, dropping a configured share on the way
type lossyWire struct {
	peers map[protocol.NodeID]*node
	loss  int
}

func (w *lossyWire) Send(peer protocol.NodeID, data []byte) error {
	target, ok := w.peers[peer]
	if !ok {
		return fmt.Errorf("no route to %s", peer)
	}
	if rand.Intn(100) < w.loss {
		return nil // the wire ate it; retries will cover
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	from := w.self(target)
	target.do(func() { target.eng.HandleInbound(from, buf) })
	return nil
}

// self returns the sender's node ID given the target: the demo wire
// links exactly two nodes
func (w *lossyWire) self(target *node) protocol.NodeID {
	for id := range w.peers {
		if id != target.eng.Self() {
			return id
		}
	}
	return protocol.NodeID{}
}

func main() {
	flag.Parse()

	printBanner()

	wire := &lossyWire{loss: *lossPercent}

	alice, err := startNode("alice", wire)
	if err != nil {
		log.Fatalf("Failed to start alice: %v", err)
	}
	bob, err := startNode("bob", wire)
	if err != nil {
		log.Fatalf("Failed to start bob: %v", err)
	}

	wire.peers = map[protocol.NodeID]*node{
		alice.eng.Self(): alice,
		bob.eng.Self():   bob,
	}

	wireUp(alice)
	wireUp(bob)

	// Resume only after both ends are routable; the requests land in
	// the peer's runner queue and are handled once the loops start
	for _, n := range []*node{alice, bob} {
		if err := n.eng.ResumeTransfers(); err != nil {
			log.Printf("⚠️ %s could not resume transfers: %v", n.name, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go alice.loop(ctx)
	go bob.loop(ctx)

	log.Printf("✓ alice is %s", alice.eng.Self())
	log.Printf("✓ bob is %s", bob.eng.Self())
	log.Printf("✓ Demo wire drops %d%% of packets", *lossPercent)

	var apiServer *api.Server
	if *apiPort > 0 {
		apiCfg := api.DefaultConfig()
		apiCfg.Port = *apiPort
		apiServer, err = api.NewServer(alice.eng, func(fn func()) {
			done := make(chan struct{})
			if !alice.do(func() { fn(); close(done) }) {
				close(done)
			}
			<-done
		}, apiCfg)
		if err != nil {
			log.Fatalf("Failed to create API server: %v", err)
		}
		go apiServer.Start(ctx)
	}

	go runDemoTraffic(ctx, alice, bob)
	go heartbeatLoop(ctx, alice, bob)

	waitForShutdown(cancel, alice, bob, apiServer)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              CyxChat Demo Daemon                  ║")
	fmt.Println("║   two nodes, one lossy wire, full protocol run    ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

// startNode loads or generates the node's identity and builds its
// engine over the demo wire
func startNode(name string, wire *lossyWire) (*node, error) {
	dir := filepath.Join(*dataDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	keyPath := filepath.Join(dir, name+".key")
	keys, err := crypto.LoadKeyFromFile(keyPath)
	if err != nil {
		keys, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		if err := crypto.SaveKeyToFile(keyPath, keys); err != nil {
			return nil, err
		}
		log.Printf("✓ New key for %s saved to %s", name, keyPath)
	}

	cfg := engine.DefaultConfig()
	cfg.DataDir = dir
	cfg.ParityChunks = *parity

	eng, err := engine.New(cfg, keys, wire)
	if err != nil {
		return nil, err
	}

	return &node{name: name, eng: eng, runner: make(chan func(), 256)}, nil
}

// wireUp installs the demo callbacks: log everything and auto-accept
// group invites
func wireUp(n *node) {
	n.eng.OnMessageReceived = func(from protocol.NodeID, msgID protocol.MessageID, text *protocol.TextPacket) {
		log.Printf("📨 [%s] %q from %s", n.name, text.Text, shortID(from))
		n.eng.MarkRead(from, msgID)
	}
	n.eng.OnStatusChanged = func(msgID protocol.MessageID, status engine.Status) {
		log.Printf("✓ [%s] message %s is now %s", n.name, msgID.String()[:8], status)
	}
	n.eng.OnGroupInviteReceived = func(groupID protocol.GroupID, inviter protocol.NodeID, name string) {
		log.Printf("👥 [%s] invited to %q by %s, accepting", n.name, name, shortID(inviter))
		if err := n.eng.AcceptGroupInvite(groupID); err != nil {
			log.Printf("⚠️ [%s] failed to accept invite: %v", n.name, err)
		}
	}
	n.eng.OnGroupMessageReceived = func(groupID protocol.GroupID, sender protocol.NodeID, text string) {
		log.Printf("👥 [%s] group message %q from %s", n.name, text, shortID(sender))
	}
	n.eng.OnFileOffered = func(fileID protocol.FileID, from protocol.NodeID, name string, size uint64) {
		log.Printf("📁 [%s] incoming file %q (%d bytes) from %s", n.name, name, size, shortID(from))
	}
	n.eng.OnFileCompleted = func(fileID protocol.FileID, name string, data []byte) {
		log.Printf("✅ [%s] file %q complete (%d bytes)", n.name, name, len(data))
	}
	n.eng.OnFileFailed = func(fileID protocol.FileID, err error) {
		log.Printf("⚠️ [%s] file transfer failed: %v", n.name, err)
	}
	n.eng.OnDeliveryFailed = func(recipient protocol.NodeID, msgID protocol.MessageID) {
		log.Printf("⚠️ [%s] gave up on message %s to %s", n.name, msgID.String()[:8], shortID(recipient))
	}
}

// runDemoTraffic drives a scripted conversation: texts both ways, a
// group, and optionally a file transfer
func runDemoTraffic(ctx context.Context, alice, bob *node) {
	aliceID, bobID := alice.eng.Self(), bob.eng.Self()
	bobPub := bob.eng.PublicKey()

	// A group early on, so group texts flow below
	alice.do(func() {
		groupID, err := alice.eng.CreateGroup("demo-room")
		if err != nil {
			log.Printf("⚠️ CreateGroup failed: %v", err)
			return
		}
		if err := alice.eng.InviteToGroup(groupID, bobID, bobPub); err != nil {
			log.Printf("⚠️ InviteToGroup failed: %v", err)
		}
	})

	if *sendFile != "" {
		time.AfterFunc(2*time.Second, func() {
			alice.do(func() {
				if _, err := alice.eng.SendFile(bobID, *sendFile); err != nil {
					log.Printf("⚠️ SendFile failed: %v", err)
				}
			})
		})
	}

	ticker := time.NewTicker(*msgInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq++
			i := seq
			alice.do(func() {
				if _, err := alice.eng.SendText(bobID, fmt.Sprintf("ping #%d", i)); err != nil {
					log.Printf("⚠️ SendText failed: %v", err)
				}
			})
			bob.do(func() {
				if _, err := bob.eng.SendText(aliceID, fmt.Sprintf("pong #%d", i)); err != nil {
					log.Printf("⚠️ SendText failed: %v", err)
				}
			})
		}
	}
}

// heartbeatLoop logs both engines' counters periodically
func heartbeatLoop(ctx context.Context, alice, bob *node) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range []*node{alice, bob} {
				n.do(func() {
					stats := n.eng.Stats()
					log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
					log.Printf("💓 [%s] heartbeat", n.name)
					log.Printf("   Messages tracked: %d", stats.Messages)
					log.Printf("   Pending acks: %d", stats.PendingAcks)
					log.Printf("   Queue depth: %d", stats.QueueDepth)
					log.Printf("   Groups: %d", stats.Groups)
					log.Printf("   Active transfers: %d", stats.ActiveTransfers)
					log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
				})
			}
		}
	}
}

func waitForShutdown(cancel context.CancelFunc, alice, bob *node, apiServer *api.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			log.Printf("Error stopping API server: %v", err)
		}
	}

	// Give the loops a beat to drain before closing the databases
	time.Sleep(200 * time.Millisecond)

	for _, n := range []*node{alice, bob} {
		if err := n.eng.Close(); err != nil {
			log.Printf("Error closing %s: %v", n.name, err)
		} else {
			log.Printf("✓ %s closed", n.name)
		}
	}

	log.Println("Goodbye! 👋")
	os.Exit(0)
}

func shortID(id protocol.NodeID) string {
	return id.String()[:8]
}
