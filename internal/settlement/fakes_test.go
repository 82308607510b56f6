package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ton-giveaways/backend/internal/ton"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func addr(b byte) *address.Address {
	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = b
	}
	return address.NewAddress(0, 0, hash)
}

func raw(a *address.Address) []byte {
	return ton.MustAddressToRaw(a)
}

func txHash(lt uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], lt)
	h := sha256.Sum256(b[:])
	return h[:]
}

func commentBody(text string) *cell.Cell {
	return cell.BeginCell().MustStoreUInt(0, 32).MustStoreStringSnake(text).EndCell()
}

func jettonNotificationBody(sender *address.Address, amount int64, memo string) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(ton.OpJettonNotification, 32).
		MustStoreUInt(0, 64).
		MustStoreBigCoins(big.NewInt(amount))
	if sender == nil {
		b = b.MustStoreUInt(0, 2)
	} else {
		b = b.MustStoreAddr(sender)
	}
	return b.MustStoreBoolBit(true).MustStoreRef(commentBody(memo)).EndCell()
}

// fakeLedger serves a fixed account history and records transfers.
type fakeLedger struct {
	mu sync.Mutex

	operator *address.Address
	balance  *big.Int
	history  []ton.Transaction // newest first

	jettonMasters map[string]*address.Address // jetton wallet -> master
	listErr       error
	listCalls     int

	seqno       uint64
	transferErr error
	transfers   [][]ton.Payout
	seqnos      []uint64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		operator:      addr(0xEE),
		balance:       big.NewInt(5_000_000_000),
		jettonMasters: map[string]*address.Address{},
	}
}

// push appends a transaction to the head of the account chain.
func (f *fakeLedger) push(in *ton.InboundMessage) ton.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx := ton.Transaction{In: in}
	if len(f.history) == 0 {
		tx.LT = 1000
	} else {
		head := f.history[0]
		tx.LT = head.LT + 1000
		tx.PrevLT = head.LT
		tx.Prev = head.Hash
	}
	tx.Hash = txHash(tx.LT)
	tx.Now = time.Unix(1_700_000_000+int64(tx.LT), 0).UTC()
	f.history = append([]ton.Transaction{tx}, f.history...)
	return tx
}

func (f *fakeLedger) deposit(from *address.Address, memo string, amount int64) ton.Transaction {
	return f.push(&ton.InboundMessage{
		Internal: true,
		Src:      from,
		Dst:      f.operator,
		Amount:   big.NewInt(amount),
		Body:     commentBody(memo),
	})
}

func (f *fakeLedger) jettonDeposit(jettonWallet, sender *address.Address, memo string, amount int64) ton.Transaction {
	return f.push(&ton.InboundMessage{
		Internal: true,
		Src:      jettonWallet,
		Dst:      f.operator,
		Amount:   big.NewInt(50_000_000),
		Body:     jettonNotificationBody(sender, amount, memo),
	})
}

func (f *fakeLedger) Address() *address.Address { return f.operator }

func (f *fakeLedger) Balance(ctx context.Context) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeLedger) ListTransactions(ctx context.Context, cursor *ton.Cursor, limit uint32) ([]ton.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	if f.listErr != nil {
		return nil, f.listErr
	}

	start := 0
	if cursor != nil {
		start = -1
		for i, tx := range f.history {
			if tx.LT == cursor.LT {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
	}
	end := min(start+int(limit), len(f.history))
	page := make([]ton.Transaction, end-start)
	copy(page, f.history[start:end])
	return page, nil
}

func (f *fakeLedger) JettonMaster(ctx context.Context, jettonWallet *address.Address) (*address.Address, error) {
	master, ok := f.jettonMasters[jettonWallet.StringRaw()]
	if !ok {
		return nil, errors.New("jetton wallet does not belong to the operator")
	}
	return master, nil
}

func (f *fakeLedger) Seqno(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seqno, nil
}

// Transfer behaves like a confirmed send: the seqno has moved when it returns.
func (f *fakeLedger) Transfer(ctx context.Context, seqno uint64, payouts []ton.Payout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, payouts)
	f.seqnos = append(f.seqnos, seqno)
	f.seqno++
	return nil
}
