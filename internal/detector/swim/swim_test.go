package swim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinJE/scylla/internal/detector/swim"
	"github.com/GavinJE/scylla/internal/raft"
)

func fastSwimConfig(id raft.ServerID, bindAddr string, seeds ...string) swim.Config {
	cfg := swim.DefaultConfig()
	cfg.NodeID = id
	cfg.BindAddr = bindAddr
	cfg.AdvertiseAddr = bindAddr
	cfg.JoinNodes = seeds
	cfg.ProbeInterval = 20 * time.Millisecond
	cfg.ProbeTimeout = 15 * time.Millisecond
	cfg.SuspicionTimeout = 60 * time.Millisecond
	return cfg
}

func startNode(t *testing.T, id raft.ServerID, bindAddr string, seeds ...string) *swim.Detector {
	t.Helper()
	s, err := swim.New(fastSwimConfig(id, bindAddr, seeds...))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return swim.NewDetector(s)
}

func TestDetector_DiscoversPeerThroughSeed(t *testing.T) {
	a := startNode(t, "a", "127.0.0.1:27001")
	b := startNode(t, "b", "127.0.0.1:27002", "127.0.0.1:27001")

	require.Eventually(t, func() bool { return a.IsAlive("b") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return b.IsAlive("a") }, time.Second, 5*time.Millisecond)
}

func TestDetector_ThreeNodeClusterGossipsFullMembership(t *testing.T) {
	a := startNode(t, "a", "127.0.0.1:27011")
	b := startNode(t, "b", "127.0.0.1:27012", "127.0.0.1:27011")
	c := startNode(t, "c", "127.0.0.1:27013", "127.0.0.1:27012")

	// c only seeds through b; it must learn about a via gossip dissemination.
	require.Eventually(t, func() bool {
		return a.IsAlive("b") && a.IsAlive("c") &&
			b.IsAlive("a") && b.IsAlive("c") &&
			c.IsAlive("a") && c.IsAlive("b")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetector_UnknownIDIsNotAlive(t *testing.T) {
	a := startNode(t, "a", "127.0.0.1:27021")
	assert.False(t, a.IsAlive("ghost"))
}

func TestDetector_StoppedPeerEventuallyMarkedDead(t *testing.T) {
	a := startNode(t, "a", "127.0.0.1:27031")
	bSwim, err := swim.New(fastSwimConfig("b", "127.0.0.1:27032", "127.0.0.1:27031"))
	require.NoError(t, err)
	require.NoError(t, bSwim.Start())

	require.Eventually(t, func() bool { return a.IsAlive("b") }, time.Second, 5*time.Millisecond)

	require.NoError(t, bSwim.Stop())

	require.Eventually(t, func() bool { return !a.IsAlive("b") }, 2*time.Second, 10*time.Millisecond,
		"peer should be suspected then marked dead once it stops acking probes")
}
