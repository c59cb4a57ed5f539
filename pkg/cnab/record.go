// Package cnab decodes fixed-width CNAB transaction records. Each record is
// one 80-byte positional line: nature (1), date (8, YYYYMMDD), amount
// (10, integer cents), CPF (11), card (12), time (6, HHMMSS), store owner
// (14) and store name (18).
package cnab

import "time"

// Nature is the single-digit transaction type at the head of every record.
type Nature int

// Transaction natures defined by the CNAB layout.
const (
	NatureDebit       Nature = 1
	NatureBankSlip    Nature = 2
	NatureFinancing   Nature = 3
	NatureCredit      Nature = 4
	NatureLoanReceipt Nature = 5
	NatureSales       Nature = 6
	NatureTEDReceipt  Nature = 7
	NatureDOCReceipt  Nature = 8
	NatureRent        Nature = 9
)

// Valid reports whether n is one of the nine defined natures.
func (n Nature) Valid() bool {
	return n >= NatureDebit && n <= NatureRent
}

// Sign returns +1 for income natures (1, 4, 5, 6, 7, 8) and -1 for expense
// natures (2, 3, 9). The sign is derived, never persisted.
func (n Nature) Sign() int {
	switch n {
	case NatureBankSlip, NatureFinancing, NatureRent:
		return -1
	default:
		return 1
	}
}

// Description returns a human-readable label for the nature.
func (n Nature) Description() string {
	switch n {
	case NatureDebit:
		return "debit"
	case NatureBankSlip:
		return "bank slip"
	case NatureFinancing:
		return "financing"
	case NatureCredit:
		return "credit"
	case NatureLoanReceipt:
		return "loan receipt"
	case NatureSales:
		return "sales"
	case NatureTEDReceipt:
		return "TED receipt"
	case NatureDOCReceipt:
		return "DOC receipt"
	case NatureRent:
		return "rent"
	default:
		return "unknown"
	}
}

// Record is one decoded CNAB line.
type Record struct {
	Nature      Nature
	BankCode    string // raw nature character, kept verbatim from the wire
	Date        time.Time
	AmountCents int64
	CPF         string
	Card        string
	Time        string // normalized "HH:MM:SS"
	StoreOwner  string
	StoreName   string
}

// Amount returns the decimal amount (cents divided by 100).
func (r *Record) Amount() float64 {
	return float64(r.AmountCents) / 100
}

// SignedAmountCents applies the nature sign to the raw amount.
func (r *Record) SignedAmountCents() int64 {
	return int64(r.Nature.Sign()) * r.AmountCents
}
