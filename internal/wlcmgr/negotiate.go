package wlcmgr

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/scan"
)

// Negotiator runs the security exchange of an association. The firmware
// negotiator leaves the handshake to the radio; the supplicant negotiator
// runs it on the host and additionally supports EAP-TLS.
type Negotiator interface {
	Name() string
	Supports(t profile.SecurityType) bool
	// AssocRetryLimit is how many rejected associations end an attempt
	AssocRetryLimit() int
	AssociateRequest(p profile.Profile, c scan.Candidate) radio.AssociateRequest
	VerifyAuthentication(p profile.Profile, ev radio.Authentication) error
}

// CertVerifier checks the certificate chain an EAP server presents
type CertVerifier interface {
	Verify(cfg *profile.EAPConfig, chain [][]byte) error
}

// NewNegotiator returns the negotiator named kind. A nil verifier selects
// X509Verifier.
func NewNegotiator(kind string, rescanLimit int, verifier CertVerifier) (Negotiator, error) {
	switch kind {
	case "", "firmware":
		if rescanLimit < 1 {
			rescanLimit = 1
		}
		return firmwareNegotiator{retries: rescanLimit}, nil
	case "supplicant":
		if verifier == nil {
			verifier = X509Verifier{}
		}
		return supplicantNegotiator{verifier: verifier}, nil
	}
	return nil, fmt.Errorf("unknown negotiation %q", kind)
}

func associateRequest(p profile.Profile, c scan.Candidate) radio.AssociateRequest {
	ssid := c.Result.SSID
	if ssid == "" {
		ssid = p.SSID
	}
	pmf := p.Security.PMFRequired ||
		(p.Security.PMFCapable && c.Result.Security.Has(radio.CapPMFCapable))
	switch c.Security {
	case profile.SecurityWPA3SAE, profile.SecurityWPA3SAEExtKey, profile.SecurityOWE:
		pmf = true
	}
	req := radio.AssociateRequest{
		BSSID:    c.Result.BSSID,
		SSID:     ssid,
		Channel:  c.Result.Channel,
		Security: c.Security.Caps(),
		Key:      p.Security.Key(c.Security),
		PMF:      pmf,
		FT:       c.Security == profile.SecurityWPA2FT,
	}
	if p.Security.EAP != nil {
		req.Identity = p.Security.EAP.Identity
	}
	return req
}

type firmwareNegotiator struct {
	retries int
}

func (firmwareNegotiator) Name() string { return "firmware" }

func (firmwareNegotiator) Supports(t profile.SecurityType) bool {
	return t != profile.SecurityEAPTLS
}

func (n firmwareNegotiator) AssocRetryLimit() int { return n.retries }

func (firmwareNegotiator) AssociateRequest(p profile.Profile, c scan.Candidate) radio.AssociateRequest {
	return associateRequest(p, c)
}

func (firmwareNegotiator) VerifyAuthentication(profile.Profile, radio.Authentication) error {
	return nil
}

type supplicantNegotiator struct {
	verifier CertVerifier
}

func (supplicantNegotiator) Name() string { return "supplicant" }

func (supplicantNegotiator) Supports(profile.SecurityType) bool { return true }

// AssocRetryLimit is 1: the supplicant owns retries itself
func (supplicantNegotiator) AssocRetryLimit() int { return 1 }

func (supplicantNegotiator) AssociateRequest(p profile.Profile, c scan.Candidate) radio.AssociateRequest {
	return associateRequest(p, c)
}

func (n supplicantNegotiator) VerifyAuthentication(p profile.Profile, ev radio.Authentication) error {
	if p.Security.Type != profile.SecurityEAPTLS {
		return nil
	}
	if err := n.verifier.Verify(p.Security.EAP, ev.PeerCerts); err != nil {
		return fmt.Errorf("server certificate rejected: %w", err)
	}
	return nil
}

// X509Verifier validates the server chain against the profile's CA
type X509Verifier struct {
	Now func() time.Time
}

func (v X509Verifier) Verify(cfg *profile.EAPConfig, chain [][]byte) error {
	if cfg == nil || len(cfg.CACert) == 0 {
		return errors.New("no CA certificate configured")
	}
	if len(chain) == 0 {
		return errors.New("server presented no certificate")
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(cfg.CACert) {
		return errors.New("CA certificate is not valid PEM")
	}
	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return err
	}
	intermediates := x509.NewCertPool()
	for _, der := range chain[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return err
		}
		intermediates.AddCert(c)
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if v.Now != nil {
		opts.CurrentTime = v.Now()
	}
	_, err = leaf.Verify(opts)
	return err
}
