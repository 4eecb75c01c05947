package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/veridex/core/internal/payments/corex"
)

var csvHeader = []string{
	"id", "timestamp", "session_key_hash", "recipient", "amount_smallest_unit",
	"amount_usd", "token_symbol_or_addr", "chain_id", "status", "tx_hash", "protocol",
}

// WriteCSV renders records as CSV. encoding/csv quotes any field containing
// a comma, quote, or newline on its own, so no special-casing is needed
// here for values that would otherwise break a naive join.
func WriteCSV(w io.Writer, records []corex.PaymentRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		txHash := ""
		if r.TxHash != nil {
			txHash = *r.TxHash
		}
		amount := "0"
		if r.AmountSmallestUnit != nil {
			amount = r.AmountSmallestUnit.String()
		}
		row := []string{
			r.ID,
			r.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
			corex.HexEncode(r.SessionKeyHash[:]),
			r.Recipient,
			amount,
			strconv.FormatInt(int64(r.AmountUSD), 10),
			r.TokenSymbolOrAddr,
			strconv.Itoa(r.ChainID),
			string(r.Status),
			txHash,
			string(r.Protocol),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON renders records as a JSON array. Microdollars marshals as a
// decimal string via its own MarshalJSON; *big.Int marshals as a bare JSON
// number, so AmountSmallestUnit is rendered as a decimal string here to keep
// values beyond float64 precision intact for JSON consumers.
func WriteJSON(w io.Writer, records []corex.PaymentRecord) error {
	type jsonRecord struct {
		corex.PaymentRecord
		AmountSmallestUnit string
	}
	out := make([]jsonRecord, len(records))
	for i, r := range records {
		amount := "0"
		if r.AmountSmallestUnit != nil {
			amount = r.AmountSmallestUnit.String()
		}
		out[i] = jsonRecord{PaymentRecord: r, AmountSmallestUnit: amount}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}
