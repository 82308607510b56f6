package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ton-giveaways/backend/internal/models"
)

// memState is the whole store; memStore clones it on begin and swaps it in on
// commit, so a failing transaction leaves no trace.
type memState struct {
	giveaways    map[string]models.Giveaway
	participants map[int64]models.Participant
	ledger       map[string]models.LedgerTransaction
	checkpoint   models.Checkpoint

	giveawayHistory    map[string][]string
	participantHistory map[int64][]string
}

func newMemState() *memState {
	return &memState{
		giveaways:          map[string]models.Giveaway{},
		participants:       map[int64]models.Participant{},
		ledger:             map[string]models.LedgerTransaction{},
		giveawayHistory:    map[string][]string{},
		participantHistory: map[int64][]string{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.giveaways {
		c.giveaways[k] = v
	}
	for k, v := range s.participants {
		c.participants[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.giveawayHistory {
		c.giveawayHistory[k] = append([]string(nil), v...)
	}
	for k, v := range s.participantHistory {
		c.participantHistory[k] = append([]string(nil), v...)
	}
	c.checkpoint = s.checkpoint
	return c
}

type memStore struct {
	mu      sync.Mutex
	state   *memState
	nextID  int64
	commits int

	// beforeTx runs against the committed state before each transaction.
	beforeTx func(st *memState)
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) LoadCheckpoint(ctx context.Context) (models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.checkpoint, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beforeTx != nil {
		m.beforeTx(m.state)
	}

	tx := &memTx{st: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.st
	m.commits++
	return nil
}

func (m *memStore) addGiveaway(g models.Giveaway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.Status == "" {
		g.Status = models.GiveawayStatusPending
	}
	m.state.giveaways[g.ID] = g
	m.state.giveawayHistory[g.ID] = []string{g.Status}
}

func (m *memStore) addParticipant(giveawayID string, receiver []byte, status string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.state.participants[m.nextID] = models.Participant{
		ID:              m.nextID,
		GiveawayID:      giveawayID,
		ReceiverAddress: receiver,
		Status:          status,
	}
	m.state.participantHistory[m.nextID] = []string{status}
	return m.nextID
}

func (m *memStore) giveaway(id string) models.Giveaway {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.giveaways[id]
}

func (m *memStore) participant(id int64) models.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.participants[id]
}

func (m *memStore) countByStatus(giveawayID string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, p := range m.state.participants {
		if p.GiveawayID == giveawayID {
			out[p.Status]++
		}
	}
	return out
}

func (m *memStore) ledgerRows() []models.LedgerTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerTransaction
	for _, t := range m.state.ledger {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalTime < out[j].LogicalTime })
	return out
}

func (m *memStore) checkpoint() models.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.checkpoint
}

type memTx struct {
	st *memState
}

func (t *memTx) LedgerTransactionExists(ctx context.Context, hash []byte) (bool, error) {
	_, ok := t.st.ledger[hex.EncodeToString(hash)]
	return ok, nil
}

func (t *memTx) AdvanceCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	if !t.st.checkpoint.Accepts(cp) {
		return ErrCheckpointConflict
	}
	t.st.checkpoint = cp
	return nil
}

func (t *memTx) InsertLedgerTransaction(ctx context.Context, lt *models.LedgerTransaction) (bool, error) {
	key := hex.EncodeToString(lt.Hash)
	if _, ok := t.st.ledger[key]; ok {
		return false, nil
	}
	row := *lt
	row.Amount = new(big.Int).Set(lt.Amount)
	row.DatabaseCreatedAt = time.Now()
	t.st.ledger[key] = row
	return true, nil
}

func (t *memTx) SumLedgerTransactions(ctx context.Context, giveawayID string) (*big.Int, error) {
	sum := new(big.Int)
	for _, row := range t.st.ledger {
		if row.GiveawayID == giveawayID {
			sum.Add(sum, row.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) GiveawayForUpdate(ctx context.Context, id string) (*models.Giveaway, error) {
	if !utf8.ValidString(id) || strings.ContainsRune(id, 0) {
		// what postgres answers with SQLSTATE 22021
		return nil, fmt.Errorf("invalid byte sequence for encoding \"UTF8\": %q", id)
	}
	g, ok := t.st.giveaways[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (t *memTx) GiveawaysByID(ctx context.Context, ids []string) (map[string]*models.Giveaway, error) {
	out := map[string]*models.Giveaway{}
	for _, id := range ids {
		if g, ok := t.st.giveaways[id]; ok {
			out[id] = &g
		}
	}
	return out, nil
}

func (t *memTx) SetGiveawayStatus(ctx context.Context, id, from, to string) (bool, error) {
	g, ok := t.st.giveaways[id]
	if !ok || g.Status != from {
		return false, nil
	}
	if !models.IsValidGiveawayTransition(from, to) {
		return false, fmt.Errorf("invalid giveaway transition %s -> %s", from, to)
	}
	g.Status = to
	t.st.giveaways[id] = g
	t.st.giveawayHistory[id] = append(t.st.giveawayHistory[id], to)
	return true, nil
}

func (t *memTx) NextEndedLottery(ctx context.Context, now time.Time) (*models.Giveaway, error) {
	var next *models.Giveaway
	for _, g := range t.st.giveaways {
		if g.Type != models.GiveawayTypeLottery || g.Status != models.GiveawayStatusActive || !g.HasEnded(now) {
			continue
		}
		if next == nil || g.EndsAt.Before(*next.EndsAt) {
			next = &g
		}
	}
	return next, nil
}

func (t *memTx) ParticipantsForUpdate(ctx context.Context, giveawayID, status string) ([]models.Participant, error) {
	var out []models.Participant
	for _, p := range t.st.participants {
		if p.GiveawayID == giveawayID && p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) SetParticipantsStatus(ctx context.Context, ids []int64, from, to string) (int64, error) {
	if !models.IsValidParticipantTransition(from, to) {
		return 0, fmt.Errorf("invalid participant transition %s -> %s", from, to)
	}
	var n int64
	for _, id := range ids {
		p, ok := t.st.participants[id]
		if !ok || p.Status != from {
			continue
		}
		p.Status = to
		t.st.participants[id] = p
		t.st.participantHistory[id] = append(t.st.participantHistory[id], to)
		n++
	}
	return n, nil
}

func (t *memTx) ClaimAwaitingPayment(ctx context.Context, limit int, exclude []int64) ([]models.Participant, error) {
	skip := map[int64]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	var out []models.Participant
	for _, p := range t.st.participants {
		if p.Status == models.ParticipantStatusAwaitingPayment && !skip[p.ID] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CountSettledParticipants(ctx context.Context, giveawayID string) (int, error) {
	n := 0
	for _, p := range t.st.participants {
		if p.GiveawayID == giveawayID && (p.Status == models.ParticipantStatusPaid || p.Status == models.ParticipantStatusLost) {
			n++
		}
	}
	return n, nil
}
