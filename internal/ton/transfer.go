package ton

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

// MaxMessagesPerTransfer is how many internal messages one external message of
// a v3/v4 wallet can carry.
const MaxMessagesPerTransfer = 4

var ErrSeqnoMoved = errors.New("wallet seqno moved since the batch was claimed")

// Transfer signs all payouts into one external message, submits it once and
// returns only after the wallet transaction carrying that message is found on
// chain and the wallet seqno has moved past seqno. Any error means the batch
// must not be recorded as paid.
func (c *Client) Transfer(ctx context.Context, seqno uint64, payouts []Payout) error {
	if c.wallet == nil {
		return ErrReadOnly
	}
	if len(payouts) == 0 {
		return nil
	}
	if len(payouts) > MaxMessagesPerTransfer {
		return fmt.Errorf("%d payouts exceed the wallet limit of %d messages", len(payouts), MaxMessagesPerTransfer)
	}

	msgs, err := c.buildMessages(ctx, payouts)
	if err != nil {
		return err
	}

	current, err := c.Seqno(ctx)
	if err != nil {
		return err
	}
	if current != seqno {
		return fmt.Errorf("%w: claimed at %d, wallet is at %d", ErrSeqnoMoved, seqno, current)
	}

	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	// Not retried: after an ambiguous failure a resend could pay twice.
	tx, _, err := c.wallet.SendManyWaitTransaction(ctx, msgs)
	if err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}
	if int(tx.OutMsgCount) != len(msgs) {
		return fmt.Errorf("wallet transaction %x emitted %d of %d messages", tx.Hash, tx.OutMsgCount, len(msgs))
	}

	c.log.Info("transfer landed",
		zap.Uint64("seqno", seqno),
		zap.String("tx_hash", hex.EncodeToString(tx.Hash)),
		zap.Uint64("lt", tx.LT),
	)
	return c.waitSeqno(ctx, seqno)
}

const (
	transferTimeout = 3 * time.Minute
	seqnoPoll       = 2 * time.Second
)

// waitSeqno blocks until the wallet seqno read through the lite server is past
// signed, so the next batch is not signed with a stale one.
func (c *Client) waitSeqno(ctx context.Context, signed uint64) error {
	ticker := time.NewTicker(seqnoPoll)
	defer ticker.Stop()
	for {
		current, err := c.Seqno(ctx)
		if err != nil {
			return err
		}
		if current > signed {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wallet seqno still %d: %w", current, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) buildMessages(ctx context.Context, payouts []Payout) ([]*wallet.Message, error) {
	jettonWallets := map[string]*jetton.WalletClient{}
	msgs := make([]*wallet.Message, 0, len(payouts))

	for _, p := range payouts {
		comment, err := wallet.CreateCommentCell(p.Comment)
		if err != nil {
			return nil, fmt.Errorf("comment cell: %w", err)
		}

		if p.Jetton == nil {
			msgs = append(msgs, wallet.SimpleMessage(p.To, tlb.FromNanoTON(p.Amount), comment))
			continue
		}

		key := p.Jetton.StringRaw()
		jw, ok := jettonWallets[key]
		if !ok {
			jw, err = call(ctx, c.retry, "get_jetton_wallet", func(ctx context.Context) (*jetton.WalletClient, error) {
				return jetton.NewJettonMasterClient(c.api, p.Jetton).GetJettonWallet(ctx, c.addr)
			})
			if err != nil {
				return nil, fmt.Errorf("operator jetton wallet for %s: %w", p.Jetton.String(), err)
			}
			jettonWallets[key] = jw
		}

		body := JettonTransferBody(uint64(time.Now().UnixNano()), p.Amount, p.To, c.addr, c.jettonForwardTON, comment)
		msgs = append(msgs, wallet.SimpleMessage(jw.Address(), c.jettonTransferTON, body))
	}
	return msgs, nil
}

// JettonTransferBody builds a TEP-74 transfer request for the operator's
// jetton wallet. The excess TON is returned to responseTo.
func JettonTransferBody(queryID uint64, amount *big.Int, to, responseTo *address.Address, forwardTON tlb.Coins, forwardPayload *cell.Cell) *cell.Cell {
	b := cell.BeginCell().
		MustStoreUInt(OpJettonTransfer, 32).
		MustStoreUInt(queryID, 64).
		MustStoreBigCoins(amount).
		MustStoreAddr(to).
		MustStoreAddr(responseTo).
		MustStoreBoolBit(false). // no custom payload
		MustStoreBigCoins(forwardTON.Nano())

	if forwardPayload == nil {
		return b.MustStoreBoolBit(false).EndCell()
	}
	return b.MustStoreBoolBit(true).MustStoreRef(forwardPayload).EndCell()
}
