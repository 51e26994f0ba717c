package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PaymentInstrument is the card data submitted with a checkout. It is
// validated before the saga starts; a malformed instrument never reaches
// the payment gateway.
type PaymentInstrument struct {
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"` // MM/YY
	CVC        string `json:"cvc"`
}

func (p PaymentInstrument) Validate(now time.Time) error {
	digits := strings.ReplaceAll(p.CardNumber, " ", "")
	if len(digits) != 16 || !isDigits(digits) {
		return fmt.Errorf("card number must be 16 digits")
	}

	if len(p.CVC) < 3 || len(p.CVC) > 4 || !isDigits(p.CVC) {
		return fmt.Errorf("cvc must be 3 or 4 digits")
	}

	month, year, err := parseExpiry(p.Expiry)
	if err != nil {
		return err
	}
	// A card is valid through the last day of its expiry month.
	endOfMonth := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(endOfMonth) {
		return fmt.Errorf("card expired %02d/%02d", month, year%100)
	}

	return nil
}

// Masked returns the card number with all but the last four digits hidden,
// safe for logs.
func (p PaymentInstrument) Masked() string {
	digits := strings.ReplaceAll(p.CardNumber, " ", "")
	if len(digits) < 4 {
		return "****"
	}
	return "**** **** **** " + digits[len(digits)-4:]
}

func parseExpiry(expiry string) (month, year int, err error) {
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("expiry must be in MM/YY format")
	}

	month, err = strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("expiry month must be between 01 and 12")
	}

	yy, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("expiry must be in MM/YY format")
	}

	return month, 2000 + yy, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
