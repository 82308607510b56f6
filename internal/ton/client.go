package ton

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ton-giveaways/backend/internal/config"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

var ErrReadOnly = errors.New("ledger client has no signing key")

// Connect establishes a connection to the TON network.
// If LITE_SERVER_HOST + LITE_SERVER_KEY are set, connects to a specific lite server.
// Otherwise lite servers are discovered from the global config for TON_NETWORK.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (tonapi.APIClientWrapped, error) {
	pool := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := pool.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := cfg.TONConfigURL
		if configURL == "" {
			configURL = "https://ton.org/testnet-global.config.json"
			if cfg.IsMainnet() {
				configURL = "https://ton.org/global.config.json"
			}
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	policy := tonapi.ProofCheckPolicyFast
	if cfg.IsMainnet() {
		policy = tonapi.ProofCheckPolicySecure
	}

	return tonapi.NewAPIClient(pool, policy).WithRetry(), nil
}

// Client is the operator wallet's view of the ledger.
type Client struct {
	api    tonapi.APIClientWrapped
	wallet *wallet.Wallet
	addr   *address.Address
	retry  *Retrier

	jettonTransferTON tlb.Coins
	jettonForwardTON  tlb.Coins

	log *zap.Logger
}

// NewClient builds the operator client. With a mnemonic it can sign transfers,
// otherwise it watches TON_WALLET_ADDRESS read-only.
func NewClient(api tonapi.APIClientWrapped, cfg *config.Config, log *zap.Logger) (*Client, error) {
	transferTON, err := tlb.FromTON(cfg.JettonTransferTON)
	if err != nil {
		return nil, fmt.Errorf("invalid JETTON_TRANSFER_TON: %w", err)
	}
	forwardTON, err := tlb.FromTON(cfg.JettonForwardTON)
	if err != nil {
		return nil, fmt.Errorf("invalid JETTON_FORWARD_TON: %w", err)
	}

	c := &Client{
		api:               api,
		retry:             NewRetrier(cfg.RetryAttempts, cfg.RequestsPerS, log),
		jettonTransferTON: transferTON,
		jettonForwardTON:  forwardTON,
		log:               log,
	}

	switch {
	case len(cfg.WalletMnemonic) > 0:
		version, err := walletVersion(cfg.WalletVersion)
		if err != nil {
			return nil, err
		}
		w, err := wallet.FromSeed(api, cfg.WalletMnemonic, version)
		if err != nil {
			return nil, fmt.Errorf("wallet from seed: %w", err)
		}
		c.wallet = w
		c.addr = w.WalletAddress()
	case cfg.WalletAddress != "":
		addr, err := ParseAddress(cfg.WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid TON_WALLET_ADDRESS: %w", err)
		}
		c.addr = addr
	default:
		return nil, errors.New("either TON_WALLET_MNEMONIC or TON_WALLET_ADDRESS is required")
	}

	c.addr.SetTestnetOnly(!cfg.IsMainnet())
	log.Info("ledger client ready",
		zap.String("operator", c.addr.String()),
		zap.Bool("can_sign", c.wallet != nil),
	)
	return c, nil
}

func walletVersion(v string) (wallet.Version, error) {
	switch strings.ToLower(v) {
	case "", "v4r2":
		return wallet.V4R2, nil
	case "v3r2":
		return wallet.V3R2, nil
	}
	return 0, fmt.Errorf("unsupported TON_WALLET_VERSION %q", v)
}

// Address of the operator wallet.
func (c *Client) Address() *address.Address {
	return c.addr
}

// CanSign reports whether the client holds the operator wallet key.
func (c *Client) CanSign() bool {
	return c.wallet != nil
}

func (c *Client) account(ctx context.Context) (*tlb.Account, error) {
	return call(ctx, c.retry, "get_account", func(ctx context.Context) (*tlb.Account, error) {
		block, err := c.api.CurrentMasterchainInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("get master block: %w", err)
		}
		return c.api.GetAccount(ctx, block, c.addr)
	})
}

// Balance of the operator wallet in nanotons.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.IsActive || acc.State == nil {
		return new(big.Int), nil
	}
	return acc.State.Balance.Nano(), nil
}

// ListTransactions returns up to limit transactions, newest first, starting at
// cursor and going back in time. A nil cursor starts at the account head.
func (c *Client) ListTransactions(ctx context.Context, cursor *Cursor, limit uint32) ([]Transaction, error) {
	if cursor == nil {
		acc, err := c.account(ctx)
		if err != nil {
			return nil, err
		}
		if acc == nil || !acc.IsActive || acc.LastTxLT == 0 {
			return nil, nil
		}
		cursor = &Cursor{LT: acc.LastTxLT, Hash: acc.LastTxHash}
	}

	txs, err := call(ctx, c.retry, "list_transactions", func(ctx context.Context) ([]*tlb.Transaction, error) {
		txs, err := c.api.ListTransactions(ctx, c.addr, limit, cursor.LT, cursor.Hash)
		if errors.Is(err, tonapi.ErrNoTransactionsWereFound) {
			return nil, nil
		}
		return txs, err
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions (lt=%d): %w", cursor.LT, err)
	}

	// lite servers return the page oldest first
	page := make([]Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		page = append(page, fromTLB(txs[i]))
	}
	return page, nil
}

// Seqno of the operator wallet. Zero for an undeployed wallet.
func (c *Client) Seqno(ctx context.Context) (uint64, error) {
	acc, err := c.account(ctx)
	if err != nil {
		return 0, err
	}
	if acc == nil || !acc.IsActive {
		return 0, nil
	}

	return call(ctx, c.retry, "seqno", func(ctx context.Context) (uint64, error) {
		block, err := c.api.CurrentMasterchainInfo(ctx)
		if err != nil {
			return 0, fmt.Errorf("get master block: %w", err)
		}
		res, err := c.api.RunGetMethod(ctx, block, c.addr, "seqno")
		if err != nil {
			return 0, err
		}
		seqno, err := res.Int(0)
		if err != nil {
			return 0, fmt.Errorf("seqno result: %w", err)
		}
		return seqno.Uint64(), nil
	})
}

// JettonMaster resolves the master contract of a jetton wallet that claims to
// hold tokens for the operator, and checks the claim by asking the master for
// the operator's wallet address. A mismatch means the notification was forged.
func (c *Client) JettonMaster(ctx context.Context, jettonWallet *address.Address) (*address.Address, error) {
	master, err := call(ctx, c.retry, "get_wallet_data", func(ctx context.Context) (*address.Address, error) {
		block, err := c.api.CurrentMasterchainInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("get master block: %w", err)
		}
		res, err := c.api.RunGetMethod(ctx, block, jettonWallet, "get_wallet_data")
		if err != nil {
			return nil, err
		}
		s, err := res.Slice(2)
		if err != nil {
			return nil, fmt.Errorf("get_wallet_data master: %w", err)
		}
		return s.LoadAddr()
	})
	if err != nil {
		return nil, err
	}

	expected, err := c.jettonWalletOf(ctx, master)
	if err != nil {
		return nil, err
	}
	if !SameAccount(expected, jettonWallet) {
		return nil, fmt.Errorf("jetton wallet %s is not the operator wallet of master %s (expected %s)",
			jettonWallet.String(), master.String(), expected.String())
	}
	return master, nil
}

func (c *Client) jettonWalletOf(ctx context.Context, master *address.Address) (*address.Address, error) {
	return call(ctx, c.retry, "get_wallet_address", func(ctx context.Context) (*address.Address, error) {
		jw, err := jetton.NewJettonMasterClient(c.api, master).GetJettonWallet(ctx, c.addr)
		if err != nil {
			return nil, err
		}
		return jw.Address(), nil
	})
}

// OperatorAddress resolves the operator wallet address from configuration
// alone, for processes that only render links and never reach a node.
func OperatorAddress(cfg *config.Config) (*address.Address, error) {
	var addr *address.Address
	switch {
	case len(cfg.WalletMnemonic) > 0:
		version, err := walletVersion(cfg.WalletVersion)
		if err != nil {
			return nil, err
		}
		w, err := wallet.FromSeed(nil, cfg.WalletMnemonic, version)
		if err != nil {
			return nil, fmt.Errorf("wallet from seed: %w", err)
		}
		addr = w.WalletAddress()
	case cfg.WalletAddress != "":
		a, err := ParseAddress(cfg.WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid TON_WALLET_ADDRESS: %w", err)
		}
		addr = a
	default:
		return nil, errors.New("either TON_WALLET_MNEMONIC or TON_WALLET_ADDRESS is required")
	}
	addr.SetTestnetOnly(!cfg.IsMainnet())
	return addr, nil
}
