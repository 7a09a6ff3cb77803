package provisioning

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

// codeAlphabet excludes ambiguous characters (0/O, 1/I/L) so codes
// survive being read off a work order over the phone.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// qrSize is the pixel width of generated QR renderings.
const qrSize = 256

// generateCode produces a random registration code of n characters.
func generateCode(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating code: %w", err)
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// registrationURL builds the public onboarding link encoded into QR
// renderings, e.g. https://voltgrid.example.com/register?code=ABCD2345.
func registrationURL(baseURL, code string) string {
	return baseURL + "?code=" + url.QueryEscape(code)
}

// codeQR renders the registration URL as a PNG QR code.
func codeQR(baseURL, code string) ([]byte, error) {
	png, err := qrcode.Encode(registrationURL(baseURL, code), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return png, nil
}
