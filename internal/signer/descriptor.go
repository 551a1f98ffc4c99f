package signer

import (
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const descriptorScheme = "nostrconnect"

// Descriptor renders the connection descriptor the user transfers to the
// signer application out-of-band: our ephemeral public key plus the
// one-time secret, relay set and display metadata.
func (s *Session) Descriptor() string {
	v := url.Values{}
	for _, r := range s.opts.Relays {
		v.Add("relay", r)
	}
	v.Set("secret", s.secret)
	if s.opts.Name != "" {
		v.Set("name", s.opts.Name)
	}
	if s.opts.URL != "" {
		v.Set("url", s.opts.URL)
	}
	if s.opts.Icon != "" {
		v.Set("image", s.opts.Icon)
	}
	return descriptorScheme + "://" + s.kp.Public + "?" + v.Encode()
}

// DescriptorQR renders the descriptor as a PNG QR code of the given pixel
// size, for display next to the copyable URI.
func (s *Session) DescriptorQR(size int) ([]byte, error) {
	return qrcode.Encode(s.Descriptor(), qrcode.Medium, size)
}

// DescriptorTerminal renders the descriptor as a small block-character QR
// for terminal flows.
func (s *Session) DescriptorTerminal() (string, error) {
	qr, err := qrcode.New(s.Descriptor(), qrcode.Medium)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(qr.ToSmallString(false), "\n"), nil
}
