package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mintbay/marketd/internal/domain"
)

// addrText encodes an address as lowercase 0x-prefixed hex for storage.
func addrText(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// textAddr decodes a stored address. Empty text reads as the zero address.
func textAddr(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

// numText encodes an amount for a NUMERIC column. Nil maps to SQL NULL.
func numText(n *big.Int) any {
	if n == nil {
		return nil
	}
	return n.String()
}

// textNum decodes a NUMERIC column read back as text. Nil maps to nil.
func textNum(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: invalid numeric %q", *s)
	}
	return n, nil
}

// nullableTime maps a zero time to SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// settlementJSON is the JSONB shape of a settlement breakdown. Amounts are
// decimal strings to survive JSON number limits.
type settlementJSON struct {
	Price            string `json:"price"`
	Currency         string `json:"currency"`
	RoyaltyReceiver  string `json:"royalty_receiver"`
	RoyaltyAmount    string `json:"royalty_amount"`
	FeeAmount        string `json:"fee_amount"`
	DistributorShare string `json:"distributor_share"`
	ProtocolShare    string `json:"protocol_share"`
	SellerProceeds   string `json:"seller_proceeds"`
}

func marshalSettlement(s *domain.Settlement) (any, error) {
	if s == nil {
		return nil, nil
	}
	str := func(n *big.Int) string {
		if n == nil {
			return "0"
		}
		return n.String()
	}
	return json.Marshal(settlementJSON{
		Price:            str(s.Price),
		Currency:         addrText(s.Currency),
		RoyaltyReceiver:  addrText(s.RoyaltyReceiver),
		RoyaltyAmount:    str(s.RoyaltyAmount),
		FeeAmount:        str(s.FeeAmount),
		DistributorShare: str(s.DistributorShare),
		ProtocolShare:    str(s.ProtocolShare),
		SellerProceeds:   str(s.SellerProceeds),
	})
}

func unmarshalSettlement(raw []byte) (*domain.Settlement, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var sj settlementJSON
	if err := json.Unmarshal(raw, &sj); err != nil {
		return nil, fmt.Errorf("postgres: decoding settlement: %w", err)
	}
	num := func(s string) (*big.Int, error) {
		if s == "" {
			return new(big.Int), nil
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: invalid settlement amount %q", s)
		}
		return n, nil
	}
	out := &domain.Settlement{
		Currency:        textAddr(sj.Currency),
		RoyaltyReceiver: textAddr(sj.RoyaltyReceiver),
	}
	var err error
	if out.Price, err = num(sj.Price); err != nil {
		return nil, err
	}
	if out.RoyaltyAmount, err = num(sj.RoyaltyAmount); err != nil {
		return nil, err
	}
	if out.FeeAmount, err = num(sj.FeeAmount); err != nil {
		return nil, err
	}
	if out.DistributorShare, err = num(sj.DistributorShare); err != nil {
		return nil, err
	}
	if out.ProtocolShare, err = num(sj.ProtocolShare); err != nil {
		return nil, err
	}
	if out.SellerProceeds, err = num(sj.SellerProceeds); err != nil {
		return nil, err
	}
	return out, nil
}

// listWindow applies ListOpts defaults: limit capped to 500, default 100.
func listWindow(opts domain.ListOpts) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
