package ton

import (
	"math/big"
	"net/url"

	"github.com/xssnick/tonutils-go/address"
)

// TopUpLink renders the ton:// deep link a giveaway creator follows to fund it.
func TopUpLink(operator *address.Address, giveawayID string, total *big.Int, jettonMaster *address.Address) string {
	q := url.Values{}
	q.Set("amount", total.String())
	q.Set("text", giveawayID)
	if jettonMaster != nil {
		q.Set("jetton", jettonMaster.String())
	}
	return "ton://transfer/" + operator.String() + "?" + q.Encode()
}
