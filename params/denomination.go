package params

import (
	"math/big"
	"strings"
)

const (
	Wei    = 1
	GWei   = 1e9
	Szabo  = 1e12
	Finney = 1e15
	Ether  = 1e18
)

// FormatEther renders a wei amount in ether with thousands separators and at
// most five decimals, always keeping at least one.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)

	whole, frac := new(big.Int).QuoRem(abs, big.NewInt(Ether), new(big.Int))
	fs := frac.String()
	fs = strings.Repeat("0", 18-len(fs)) + fs
	if len(fs) > 5 {
		fs = fs[:5]
	}
	fs = strings.TrimRight(fs, "0")
	if fs == "" {
		fs = "0"
	}

	ws := whole.String()
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range ws {
		if i > 0 && (len(ws)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(fs)
	return b.String()
}
