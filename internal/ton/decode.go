package ton

import (
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	OpComment            = 0x00000000
	OpJettonTransfer     = 0x0f8a7ea5
	OpJettonNotification = 0x7362d09c
)

// Body is one of Comment, JettonNotification or Opaque.
type Body interface {
	isBody()
}

// Comment is a plain transfer carrying a text memo.
type Comment struct {
	Text string
}

// JettonNotification is the transfer_notification a jetton wallet sends to its
// owner. Sender is nil when the jetton was minted rather than sent by a user.
type JettonNotification struct {
	QueryID uint64
	Amount  *big.Int
	Sender  *address.Address
	Comment string
}

// Opaque is any body we do not understand.
type Opaque struct {
	Data []byte
}

func (Comment) isBody()            {}
func (JettonNotification) isBody() {}
func (Opaque) isBody()             {}

// Memo returns the text memo carried by b, if any.
func Memo(b Body) string {
	switch v := b.(type) {
	case Comment:
		return v.Text
	case JettonNotification:
		return v.Comment
	}
	return ""
}

// DecodeBody classifies an internal message body. It never fails: anything
// that does not parse cleanly is returned as Opaque.
func DecodeBody(body *cell.Cell) Body {
	if body == nil {
		return Opaque{}
	}

	s := body.BeginParse()
	if s.BitsLeft() < 32 {
		return opaque(body)
	}

	op, err := s.LoadUInt(32)
	if err != nil {
		return opaque(body)
	}

	switch op {
	case OpComment:
		text, err := s.LoadStringSnake()
		if err != nil || !printableMemo(text) {
			return opaque(body)
		}
		return Comment{Text: strings.TrimSpace(text)}
	case OpJettonNotification:
		n, ok := decodeJettonNotification(s)
		if !ok {
			return opaque(body)
		}
		return n
	}

	return opaque(body)
}

func decodeJettonNotification(s *cell.Slice) (JettonNotification, bool) {
	var n JettonNotification

	queryID, err := s.LoadUInt(64)
	if err != nil {
		return n, false
	}
	amount, err := s.LoadBigCoins()
	if err != nil {
		return n, false
	}
	sender, err := s.LoadAddr()
	if err != nil {
		return n, false
	}

	n.QueryID = queryID
	n.Amount = amount
	if sender != nil && sender.Type() == address.StdAddress {
		n.Sender = sender
	}

	// forward_payload:(Either Cell ^Cell); a missing payload means no memo.
	if s.BitsLeft() == 0 {
		return n, true
	}
	inRef, err := s.LoadBoolBit()
	if err != nil {
		return n, false
	}
	payload := s
	if inRef {
		if payload, err = s.LoadRef(); err != nil {
			return n, false
		}
	}
	n.Comment = forwardComment(payload)
	return n, true
}

func forwardComment(s *cell.Slice) string {
	if s.BitsLeft() < 32 {
		return ""
	}
	op, err := s.LoadUInt(32)
	if err != nil || op != OpComment {
		return ""
	}
	text, err := s.LoadStringSnake()
	if err != nil || !printableMemo(text) {
		return ""
	}
	return strings.TrimSpace(text)
}

// printableMemo rejects text comments that cannot be stored or matched as a
// giveaway id: the snake string is raw bytes and may hold anything.
func printableMemo(text string) bool {
	return utf8.ValidString(text) && !strings.ContainsRune(text, 0)
}

func opaque(body *cell.Cell) Opaque {
	return Opaque{Data: body.ToBOC()}
}
