package fsm

import "github.com/GavinJE/scylla/internal/raft"

// Campaign forces an election attempt regardless of the election timer,
// the way the contract's test hooks (wait_until_candidate) and an operator
// "force election" action would. It runs the same pre-vote/vote logic the
// timeout path uses.
func (f *FSM) Campaign() Output {
	out := f.baseOutput()
	f.startElection(&out)
	return out
}

// startElection begins a pre-vote round (if enabled) or a real election,
// per the roles table in spec §4.1.
func (f *FSM) startElection(out *Output) {
	if f.role == raft.Leader {
		return
	}
	if !f.isVoter(f.id) {
		return
	}
	if f.cfg.EnablePreVoting {
		f.beginPreVote(out)
	} else {
		f.beginElection(out)
	}
}

func (f *FSM) beginPreVote(out *Output) {
	f.transitionTo(raft.PreCandidate, out)
	f.preVotes = map[raft.ServerID]bool{f.id: true}
	f.resetElectionTimer()

	lastIndex, lastTerm := f.log.lastIndex(), f.log.lastTerm()
	req := raft.PreVoteRequest{
		Term:         f.currentTerm + 1,
		CandidateID:  f.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for _, peer := range f.voters() {
		if peer == f.id {
			continue
		}
		out.addSend(sendPreVoteRequest{To: peer, Req: req})
	}
	f.maybeWinPreVote(out)
}

func (f *FSM) beginElection(out *Output) {
	f.currentTerm++
	f.votedFor = &f.id
	out.TermVote = &TermVote{Term: f.currentTerm, VotedFor: f.votedFor}
	out.CurrentTerm = f.currentTerm
	f.transitionTo(raft.Candidate, out)
	f.votes = map[raft.ServerID]bool{f.id: true}
	f.resetElectionTimer()

	lastIndex, lastTerm := f.log.lastIndex(), f.log.lastTerm()
	req := raft.VoteRequest{
		Term:         f.currentTerm,
		CandidateID:  f.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for _, peer := range f.voters() {
		if peer == f.id {
			continue
		}
		out.addSend(sendVoteRequest{To: peer, Req: req})
	}
	f.maybeWinElection(out)
}

func (f *FSM) handlePreVoteRequest(m PreVoteRequestMsg) Output {
	out := f.baseOutput()
	req := m.Req

	grant := false
	// Pre-voting itself never adopts the would-be term (spec §4.1): a
	// follower grants a pre-vote iff the candidate's log is at least as
	// up-to-date AND it hasn't heard from a leader within the minimum
	// election timeout.
	heardFromLeaderRecently := f.role == raft.Follower && f.leaderHint != "" && f.electionElapsed < f.cfg.ElectionTimeout
	if req.Term >= f.currentTerm && !heardFromLeaderRecently && f.log.isUpToDate(req.LastLogTerm, req.LastLogIndex) {
		grant = true
	}

	// A grant echoes the would-be term it was given for; a rejection carries
	// our own term so a lagging pre-candidate can catch up.
	respTerm := f.currentTerm
	if grant {
		respTerm = req.Term
	}
	out.addSend(sendPreVoteResponse{To: m.From, Resp: raft.PreVoteResponse{
		Term:        respTerm,
		VoteGranted: grant,
		From:        f.id,
	}})
	return out
}

func (f *FSM) handlePreVoteResponse(m PreVoteResponseMsg) Output {
	out := f.baseOutput()
	if f.role != raft.PreCandidate {
		return out
	}
	if !m.Resp.VoteGranted {
		f.adoptHigherTerm(m.Resp.Term, &out)
		return out
	}
	if m.Resp.Term != f.currentTerm+1 {
		return out
	}
	f.preVotes[m.From] = true
	f.maybeWinPreVote(&out)
	return out
}

func (f *FSM) maybeWinPreVote(out *Output) {
	if f.role != raft.PreCandidate {
		return
	}
	if f.quorumConfig().HasQuorum(f.preVotes) {
		f.beginElection(out)
	}
}

func (f *FSM) handleVoteRequest(m VoteRequestMsg) Output {
	out := f.baseOutput()
	req := m.Req

	f.adoptHigherTerm(req.Term, &out)

	grant := false
	if req.Term == f.currentTerm &&
		(f.votedFor == nil || *f.votedFor == req.CandidateID) &&
		f.log.isUpToDate(req.LastLogTerm, req.LastLogIndex) {
		grant = true
		f.votedFor = &req.CandidateID
		out.TermVote = &TermVote{Term: f.currentTerm, VotedFor: f.votedFor}
		f.resetElectionTimer()
	}

	out.CurrentTerm = f.currentTerm
	out.addSend(sendVoteResponse{To: m.From, Resp: raft.VoteResponse{
		Term:        f.currentTerm,
		VoteGranted: grant,
		From:        f.id,
	}})
	return out
}

func (f *FSM) handleVoteResponse(m VoteResponseMsg) Output {
	out := f.baseOutput()
	if f.role != raft.Candidate {
		return out
	}
	if f.adoptHigherTerm(m.Resp.Term, &out) {
		return out
	}
	if m.Resp.Term != f.currentTerm {
		return out
	}
	if m.Resp.VoteGranted {
		f.votes[m.From] = true
	}
	f.maybeWinElection(&out)
	return out
}

func (f *FSM) maybeWinElection(out *Output) {
	if f.role != raft.Candidate {
		return
	}
	if !f.quorumConfig().HasQuorum(f.votes) {
		return
	}
	f.transitionTo(raft.Leader, out)
	// A fresh leader commits a dummy entry at its own term to force commit
	// progress (spec §4.1: "an entry from a prior term can only be
	// committed transitively via an entry of the current term").
	f.appendLocal(raft.Dummy{}, out)
}
