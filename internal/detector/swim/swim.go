package swim

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GavinJE/scylla/internal/raft"
)

// SWIM runs the probe loop and UDP transport for one node's membership
// view. Grounded on the teacher's internal/swim (same ping / ping-req /
// suspect-then-dead state machine and piggyback dissemination), but a
// single node's full view is gossiped on every message instead of a
// bounded-fanout retransmission queue — Raft groups are small, so there is
// no "thundering gossip" problem the teacher's GossipFanout/
// NumGossipRetransmissions knobs exist to solve.
type SWIM struct {
	mu      sync.RWMutex
	members map[raft.ServerID]*Member
	self    raft.ServerID

	conn *net.UDPConn
	cfg  Config

	seqNo uint64

	pendMu  sync.Mutex
	pending map[uint64]chan struct{}

	relayMu sync.Mutex
	relay   map[string]string // "<requester-addr>:<seqno>" -> requester addr

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New binds cfg.BindAddr and seeds the membership view with just this
// node. Call Start to begin probing and contact cfg.JoinNodes.
func New(cfg Config) (*SWIM, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve swim bind addr %q: %w", cfg.BindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp on %q: %w", cfg.BindAddr, err)
	}

	advertise := cfg.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.BindAddr
	}

	s := &SWIM{
		members: make(map[raft.ServerID]*Member),
		self:    cfg.NodeID,
		conn:    conn,
		cfg:     cfg,
		pending: make(map[uint64]chan struct{}),
		relay:   make(map[string]string),
		stopCh:  make(chan struct{}),
	}
	s.members[s.self] = &Member{ID: s.self, Addr: advertise, Status: Alive}
	return s, nil
}

// Start begins the listen and probe loops and fires a one-shot ping at
// each seed in Config.JoinNodes to bootstrap the membership view from
// whatever the seed already knows.
func (s *SWIM) Start() error {
	s.wg.Add(2)
	go s.listen()
	go s.probeLoop()

	for _, seed := range s.cfg.JoinNodes {
		seq := atomic.AddUint64(&s.seqNo, 1)
		s.sendTo(seed, message{Type: msgPing, From: s.self, SeqNo: seq, Piggyback: s.snapshot()})
	}
	return nil
}

// Stop closes the UDP socket and waits for both background loops to exit.
func (s *SWIM) Stop() error {
	close(s.stopCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

func (s *SWIM) isAlive(id raft.ServerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	return ok && m.Status == Alive
}

func (s *SWIM) listen() {
	defer s.wg.Done()
	buf := make([]byte, 16384)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		var msg message
		if err := gob.NewDecoder(bytes.NewReader(buf[:n])).Decode(&msg); err != nil {
			continue
		}
		s.handleMessage(addr.String(), msg)
	}
}

func (s *SWIM) probeLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.probeRandomMember()
			s.reapExpiredSuspects()
		}
	}
}

func (s *SWIM) probeRandomMember() {
	target := s.randomMember()
	if target == nil {
		return
	}

	seq := atomic.AddUint64(&s.seqNo, 1)
	waiter := make(chan struct{}, 1)
	s.pendMu.Lock()
	s.pending[seq] = waiter
	s.pendMu.Unlock()
	defer func() {
		s.pendMu.Lock()
		delete(s.pending, seq)
		s.pendMu.Unlock()
	}()

	s.sendTo(target.Addr, message{Type: msgPing, From: s.self, SeqNo: seq, Piggyback: s.snapshot()})
	if s.waitAck(waiter, s.cfg.ProbeTimeout) {
		s.markAlive(target.ID, target.Addr)
		return
	}

	helpers := s.randomMembers(s.cfg.IndirectProbeCount, target.ID)
	for _, h := range helpers {
		s.sendTo(h.Addr, message{Type: msgPingReq, From: s.self, Target: target.ID, SeqNo: seq, Piggyback: s.snapshot()})
	}
	if len(helpers) > 0 && s.waitAck(waiter, s.cfg.ProbeTimeout) {
		s.markAlive(target.ID, target.Addr)
		return
	}

	s.markSuspect(target.ID)
}

func (s *SWIM) waitAck(waiter chan struct{}, timeout time.Duration) bool {
	select {
	case <-waiter:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *SWIM) reapExpiredSuspects() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.Status == Suspect && now.Sub(m.SuspectSince) > s.cfg.SuspicionTimeout {
			m.Status = Dead
		}
	}
}

func (s *SWIM) handleMessage(fromAddr string, msg message) {
	s.mergeUpdates(msg.Piggyback)

	switch msg.Type {
	case msgPing:
		s.markAlive(msg.From, fromAddr)
		s.sendTo(fromAddr, message{Type: msgAck, From: s.self, SeqNo: msg.SeqNo, Piggyback: s.snapshot()})

	case msgAck:
		s.markAlive(msg.From, fromAddr)
		s.resolvePending(msg.SeqNo)

	case msgPingReq:
		s.markAlive(msg.From, fromAddr)
		targetAddr := s.addrOf(msg.Target)
		if targetAddr == "" {
			return
		}
		key := relayKey(fromAddr, msg.SeqNo)
		s.relayMu.Lock()
		s.relay[key] = fromAddr
		s.relayMu.Unlock()
		s.sendTo(targetAddr, message{Type: msgIndirectPing, From: s.self, SeqNo: msg.SeqNo, Piggyback: s.snapshot()})

	case msgIndirectPing:
		s.markAlive(msg.From, fromAddr)
		s.sendTo(fromAddr, message{Type: msgIndirectAck, From: s.self, SeqNo: msg.SeqNo, Piggyback: s.snapshot()})

	case msgIndirectAck:
		s.markAlive(msg.From, fromAddr)
		key := relayKey(fromAddr, msg.SeqNo)
		s.relayMu.Lock()
		requesterAddr, ok := s.relay[key]
		if ok {
			delete(s.relay, key)
		}
		s.relayMu.Unlock()
		if ok {
			s.sendTo(requesterAddr, message{Type: msgAck, From: s.self, SeqNo: msg.SeqNo, Piggyback: s.snapshot()})
		}
	}
}

// relayKey namespaces the relay table by the helper's peer on each side of
// the ping-req so two different requesters probing through the same
// helper at the same moment can't collide on a bare sequence number.
func relayKey(peerAddr string, seq uint64) string {
	return fmt.Sprintf("%s:%d", peerAddr, seq)
}

func (s *SWIM) resolvePending(seq uint64) {
	s.pendMu.Lock()
	ch, ok := s.pending[seq]
	s.pendMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *SWIM) markAlive(id raft.ServerID, addr string) {
	if id == "" || id == s.self {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		s.members[id] = &Member{ID: id, Addr: addr, Status: Alive, Incarnation: 1}
		return
	}
	m.Status = Alive
	m.SuspectSince = time.Time{}
	if addr != "" {
		m.Addr = addr
	}
}

func (s *SWIM) markSuspect(id raft.ServerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok || m.Status != Alive {
		return
	}
	m.Status = Suspect
	m.SuspectSince = time.Now()
}

// mergeUpdates folds gossiped facts into the local view. A higher
// incarnation always wins; at equal incarnation, Dead beats Suspect beats
// Alive, so a failure report can't be silently overwritten by a stale
// Alive claim from before the failure (SWIM paper §4.3's refutation rule,
// applied the other direction).
func (s *SWIM) mergeUpdates(updates []update) {
	if len(updates) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if u.ID == s.self {
			continue
		}
		existing, ok := s.members[u.ID]
		if !ok {
			s.members[u.ID] = &Member{ID: u.ID, Addr: u.Addr, Status: u.Status, Incarnation: u.Incarnation}
			continue
		}
		if u.Incarnation < existing.Incarnation {
			continue
		}
		if u.Incarnation == existing.Incarnation && severity(u.Status) <= severity(existing.Status) {
			continue
		}
		existing.Addr = u.Addr
		existing.Status = u.Status
		existing.Incarnation = u.Incarnation
		if u.Status == Suspect {
			existing.SuspectSince = time.Now()
		} else {
			existing.SuspectSince = time.Time{}
		}
	}
}

func severity(s MemberStatus) int {
	switch s {
	case Dead:
		return 2
	case Suspect:
		return 1
	default:
		return 0
	}
}

func (s *SWIM) addrOf(id raft.ServerID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.members[id]; ok {
		return m.Addr
	}
	return ""
}

// snapshot returns every known member as a gossip payload. Fine at Raft
// group scale; a large cluster would want a bounded, randomly-sampled
// subset instead.
func (s *SWIM) snapshot() []update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]update, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, update{ID: m.ID, Addr: m.Addr, Status: m.Status, Incarnation: m.Incarnation})
	}
	return out
}

func (s *SWIM) randomMember() *Member {
	candidates := s.randomMembers(1, "")
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// randomMembers returns up to n distinct members in random order, excluding
// self and excludeID (used both to pick a probe target and, separately, to
// pick indirect-probe helpers).
func (s *SWIM) randomMembers(n int, excludeID raft.ServerID) []*Member {
	s.mu.RLock()
	pool := make([]*Member, 0, len(s.members))
	for id, m := range s.members {
		if id == s.self || id == excludeID || m.Status == Dead {
			continue
		}
		pool = append(pool, m)
	}
	s.mu.RUnlock()

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func (s *SWIM) sendTo(addr string, msg message) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return
	}
	_, _ = s.conn.WriteToUDP(buf.Bytes(), udpAddr)
}
