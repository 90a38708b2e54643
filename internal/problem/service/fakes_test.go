package service

import (
	"context"
	"sort"
	"sync"

	"ojtrust/internal/common/db"
	"ojtrust/internal/common/mq"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/repository"
)

// memStore backs both repositories. Transactions are serialized by fakeDB,
// which plays the role of the problem row lock.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	problems    map[int64]model.Problem
	votes       []model.Vote
	validations []model.Validation
}

func newMemStore() *memStore {
	return &memStore{problems: make(map[int64]model.Problem)}
}

func (s *memStore) put(p model.Problem) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	s.problems[p.ID] = p
	return p.ID
}

type storeState struct {
	nextID      int64
	problems    map[int64]model.Problem
	votes       []model.Vote
	validations []model.Validation
}

func (s *memStore) snapshot() storeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	problems := make(map[int64]model.Problem, len(s.problems))
	for id, p := range s.problems {
		problems[id] = p
	}
	return storeState{
		nextID:      s.nextID,
		problems:    problems,
		votes:       append([]model.Vote(nil), s.votes...),
		validations: append([]model.Validation(nil), s.validations...),
	}
}

func (s *memStore) restore(snap storeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.problems = snap.problems
	s.votes = snap.votes
	s.validations = snap.validations
}

func (s *memStore) countsLocked(problemID int64) (int64, int64) {
	var up, down int64
	for _, v := range s.votes {
		if v.ProblemID != problemID {
			continue
		}
		if v.IsUp {
			up++
		} else {
			down++
		}
	}
	return up, down
}

// Problem repository.

func (s *memStore) Create(_ context.Context, _ db.Transaction, problem *model.Problem) (int64, error) {
	id := s.put(*problem)
	problem.ID = id
	return id, nil
}

func (s *memStore) Get(_ context.Context, _ db.Transaction, problemID int64) (*model.Problem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	p.VoteUpCount, p.VoteDownCount = s.countsLocked(problemID)
	return &p, nil
}

func (s *memStore) GetForUpdate(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	if tx == nil {
		return nil, repository.ErrTxRequired
	}
	return s.Get(ctx, tx, problemID)
}

func (s *memStore) UpdateModeration(_ context.Context, _ db.Transaction, problem *model.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[problem.ID]
	if !ok {
		return repository.ErrProblemNotFound
	}
	p.Validity = problem.Validity
	p.RankScore = problem.RankScore
	p.Difficulty = problem.Difficulty
	s.problems[problem.ID] = p
	return nil
}

func (s *memStore) IncrementSubmissions(_ context.Context, _ db.Transaction, problemID int64, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.problems[problemID]
	if !ok {
		return repository.ErrProblemNotFound
	}
	p.SubmissionCount++
	if accepted {
		p.AcceptedCount++
	}
	s.problems[problemID] = p
	return nil
}

func (s *memStore) DeleteWithVotes(_ context.Context, _ db.Transaction, problemID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.problems[problemID]; !ok {
		return repository.ErrProblemNotFound
	}
	delete(s.problems, problemID)
	kept := s.votes[:0]
	for _, v := range s.votes {
		if v.ProblemID != problemID {
			kept = append(kept, v)
		}
	}
	s.votes = kept
	return nil
}

func (s *memStore) CountPending(_ context.Context, _ db.Transaction, ownerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.problems {
		if p.OwnerID == ownerID && p.Validity == model.ValidityPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) SaveValidation(_ context.Context, _ db.Transaction, validation model.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations = append(s.validations, validation)
	return nil
}

// Vote repository, exposed through votesOf to avoid clashing method names.

type memVotes struct{ s *memStore }

func votesOf(s *memStore) repository.VoteRepository { return memVotes{s: s} }

func (v memVotes) LastVote(_ context.Context, _ db.Transaction, problemID int64) (*model.Vote, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for i := len(v.s.votes) - 1; i >= 0; i-- {
		if v.s.votes[i].ProblemID == problemID {
			last := v.s.votes[i]
			return &last, nil
		}
	}
	return nil, nil
}

func (v memVotes) Counts(_ context.Context, _ db.Transaction, problemID int64) (int64, int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	up, down := v.s.countsLocked(problemID)
	return up, down, nil
}

func (v memVotes) Insert(_ context.Context, _ db.Transaction, vote *model.Vote) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.votes {
		if existing.ProblemID == vote.ProblemID && existing.UserID == vote.UserID {
			return repository.ErrDuplicateVote
		}
	}
	vote.ID = int64(len(v.s.votes) + 1)
	v.s.votes = append(v.s.votes, *vote)
	return nil
}

func (v memVotes) Get(_ context.Context, _ db.Transaction, problemID, userID int64) (*model.Vote, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, existing := range v.s.votes {
		if existing.ProblemID == problemID && existing.UserID == userID {
			found := existing
			return &found, nil
		}
	}
	return nil, repository.ErrVoteNotFound
}

// fakeDB runs one transaction at a time and rolls the store back on error.
type fakeDB struct {
	txMu     sync.Mutex
	store    *memStore
	failNext []error
}

type fakeTx struct{}

func (fakeTx) Query(context.Context, string, ...interface{}) (db.Rows, error) { return nil, nil }
func (fakeTx) QueryRow(context.Context, string, ...interface{}) db.Row        { return nil }
func (fakeTx) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (db.Rows, error) { return nil, nil }
func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) db.Row        { return nil }
func (f *fakeDB) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, nil
}
func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	if len(f.failNext) > 0 {
		err := f.failNext[0]
		f.failNext = f.failNext[1:]
		return err
	}
	snap := f.store.snapshot()
	if err := fn(fakeTx{}); err != nil {
		f.store.restore(snap)
		return err
	}
	return nil
}

type fakeBoard struct {
	mu     sync.Mutex
	scores map[int64]float64
	err    error
}

func newFakeBoard() *fakeBoard { return &fakeBoard{scores: make(map[int64]float64)} }

func (b *fakeBoard) Update(_ context.Context, problemID int64, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.scores[problemID] = score
	return nil
}

func (b *fakeBoard) Remove(_ context.Context, problemID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.scores, problemID)
	return nil
}

func (b *fakeBoard) Top(_ context.Context, offset, limit int64) ([]repository.RankEntry, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]repository.RankEntry, 0, len(b.scores))
	for id, score := range b.scores {
		entries = append(entries, repository.RankEntry{ProblemID: id, RankScore: score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RankScore > entries[j].RankScore })
	total := int64(len(entries))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return entries[offset:end], total, nil
}

func (b *fakeBoard) has(problemID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.scores[problemID]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ProblemLifecycleEvent
	err    error
}

func (p *recordingPublisher) PublishLifecycle(_ context.Context, event model.ProblemLifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []model.ProblemLifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.ProblemLifecycleEvent(nil), p.events...)
}

type capturingProducer struct {
	topic    string
	messages []*mq.Message
	err      error
}

func (p *capturingProducer) Publish(_ context.Context, topic string, message *mq.Message) error {
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.messages = append(p.messages, message)
	return nil
}

type capturingConsumer struct {
	topic   string
	opts    *mq.SubscribeOptions
	handler mq.HandlerFunc
}

func (c *capturingConsumer) SubscribeWithOptions(_ context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	c.topic, c.handler, c.opts = topic, handler, opts
	return nil
}

func (c *capturingConsumer) Start() error { return nil }
func (c *capturingConsumer) Stop() error  { return nil }
