package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mdslocker/lockerd/internal/logger"
	"github.com/mdslocker/lockerd/pkg/locker"
	"gopkg.in/yaml.v3"
)

// scriptFile is the on-disk shape of a --script file: a single inode on
// node "mds.a" driven through a sequence of client capability events and
// lock acquisitions, for demonstrations the built-in scenarios don't cover.
type scriptFile struct {
	Inode  uint64        `yaml:"inode"`
	Events []scriptEvent `yaml:"events"`
}

// scriptEvent is one step. Type is one of:
//   - "open": a new client opens, requesting Wanted bits (issue_new_caps).
//   - "demand": an already-open client changes its wanted bits.
//   - "close": a client releases everything.
//   - "acquire_hard_x": the authority acquires the inode's hard xlock and
//     immediately releases it, to exercise HARD gathering against whatever
//     replicas the script declared.
type scriptEvent struct {
	Type    string `yaml:"type"`
	Client  string `yaml:"client"`
	Wanted  string `yaml:"wanted"`
	Replica string `yaml:"replica"` // for "open": register this node as a replica first
}

// loadScript parses a YAML script file.
func loadScript(path string) (*scriptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %q: %w", path, err)
	}
	var sf scriptFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse script %q: %w", path, err)
	}
	return &sf, nil
}

// parseCapBits parses a comma-separated list of rd,wr,rdcache,wrbuffer.
func parseCapBits(s string) (locker.CapBits, error) {
	var bits locker.CapBits
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, tok := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "rd":
			bits |= locker.FileRD
		case "wr":
			bits |= locker.FileWR
		case "rdcache":
			bits |= locker.FileRDCache
		case "wrbuffer":
			bits |= locker.FileWRBuffer
		default:
			return 0, fmt.Errorf("unknown cap bit %q", tok)
		}
	}
	return bits, nil
}

// runScript executes a parsed script against a freshly built single-node
// (plus any declared replicas) cluster, returning it still open.
func runScript(ctx context.Context, cfg locker.Config, sf *scriptFile) (*cluster, error) {
	nodes := []locker.NodeID{nodeA}
	seen := map[locker.NodeID]bool{nodeA: true}
	for _, ev := range sf.Events {
		if ev.Replica != "" && !seen[locker.NodeID(ev.Replica)] {
			seen[locker.NodeID(ev.Replica)] = true
			nodes = append(nodes, locker.NodeID(ev.Replica))
		}
	}

	c := newCluster(ctx, cfg, nodes...)
	in := locker.NewInode(locker.InodeID(sf.Inode), nodeA)
	c.cache.PutInode(in)

	clients := map[string]*scriptedClient{}

	for i, ev := range sf.Events {
		switch ev.Type {
		case "open":
			wanted, err := parseCapBits(ev.Wanted)
			if err != nil {
				return c, fmt.Errorf("event %d: %w", i, err)
			}
			if ev.Replica != "" {
				in.Replicas[locker.NodeID(ev.Replica)] = struct{}{}
			}
			sc := &scriptedClient{id: locker.ClientID(ev.Client), ino: in.ID, authority: c.node(nodeA), nextWanted: wanted}
			clients[ev.Client] = sc
			c.msgr.RegisterClient(sc.id, sc)
			c.node(nodeA).IssueNewCaps(in, sc.id, wanted)
			c.msgr.Drain()
			logState("script: client opened", logger.ClientID(ev.Client), logger.CapBits(wanted.String()))

		case "demand":
			sc, ok := clients[ev.Client]
			if !ok {
				return c, fmt.Errorf("event %d: demand for unopened client %q", i, ev.Client)
			}
			wanted, err := parseCapBits(ev.Wanted)
			if err != nil {
				return c, fmt.Errorf("event %d: %w", i, err)
			}
			sc.nextWanted = wanted
			cap := in.GetClientCap(sc.id)
			c.node(nodeA).Dispatch(&locker.MClientFileCaps{
				Ino: in.ID, Client: sc.id, Seq: 0, Caps: cap.Pending(), Wanted: wanted,
			})
			c.msgr.Drain()
			logState("script: client demand changed", logger.ClientID(ev.Client), logger.CapBits(wanted.String()))

		case "close":
			sc, ok := clients[ev.Client]
			if !ok {
				return c, fmt.Errorf("event %d: close for unopened client %q", i, ev.Client)
			}
			sc.nextWanted = 0
			c.node(nodeA).Dispatch(&locker.MClientFileCaps{
				Ino: in.ID, Client: sc.id, Seq: 0, Caps: 0, Wanted: 0,
			})
			c.msgr.Drain()
			logState("script: client closed", logger.ClientID(ev.Client))

		case "acquire_hard_x":
			mdr := c.acquire(c.node(nodeA), locker.AcquireRequest{InodeHardX: []locker.InodeID{in.ID}}, fmt.Sprintf("script-%d", i))
			logState("script: hard xlock granted", logger.RequestID(mdr.ID), logger.LockState(in.Hard.State.String()))
			c.node(nodeA).HardXlockFinish(in)
			logState("script: hard xlock released", logger.LockState(in.Hard.State.String()))

		default:
			return c, fmt.Errorf("event %d: unknown event type %q", i, ev.Type)
		}
	}

	return c, nil
}
