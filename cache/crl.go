package cache

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
)

// kdsBase is the AMD Key Distribution Service endpoint serving VCEK
// certificate revocation lists per product line.
const kdsBase = "https://kdsintf.amd.com/vcek/v1"

// productLines are the processor generations whose CRLs the cache
// tracks.
var productLines = []string{"Milan", "Genoa"}

// crlFile is the bundle written under the cache directory: a DER
// SEQUENCE holding one CRL per product line.
const crlFile = "crls.der"

// fetchRetries bounds attempts per endpoint on transient failures.
const fetchRetries = 3

// ErrNoCRLCache reports that no CRL bundle has been cached yet.
var ErrNoCRLCache = errors.New("cache: no CRL cache file")

// StaleCRLError reports a cached CRL whose validity window has
// passed.
type StaleCRLError struct {
	Issuer     string
	NextUpdate time.Time
}

func (e *StaleCRLError) Error() string {
	return fmt.Sprintf("cache: CRL from %s expired %s", e.Issuer, e.NextUpdate.Format(time.RFC3339))
}

// FetchCRLs downloads the revocation list of every product line,
// validates each as DER, and replaces the cached bundle atomically.
// The cache is never left holding a partial bundle.
func (s *Store) FetchCRLs(ctx context.Context) error {
	ders := make([][]byte, len(productLines))

	g, ctx := errgroup.WithContext(ctx)
	for i, product := range productLines {
		i, product := i, product // per-iteration copies for the goroutine below
		url := fmt.Sprintf("%s/%s/crl", s.base, product)
		g.Go(func() error {
			der, err := s.fetch(ctx, url)
			if err != nil {
				return fmt.Errorf("failed to fetch %s CRL: %w", product, err)
			}
			if _, err := x509.ParseRevocationList(der); err != nil {
				return fmt.Errorf("failed to parse %s CRL: %w", product, err)
			}
			ders[i] = der
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	bundle, err := marshalCRLBundle(ders)
	if err != nil {
		return fmt.Errorf("failed to assemble CRL bundle: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".crls-*")
	if err != nil {
		return fmt.Errorf("failed to stage CRL bundle: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(bundle); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write CRL bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write CRL bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, crlFile)); err != nil {
		return fmt.Errorf("failed to install CRL bundle: %w", err)
	}
	return nil
}

// CheckCRLs verifies the cached bundle parses and every CRL in it is
// still inside its validity window. It returns the moment the bundle
// next goes stale, or the zero time when no CRL announces one.
func (s *Store) CheckCRLs() (time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, crlFile))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrNoCRLCache
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: failed to read CRL bundle: %w", err)
	}

	crls, err := parseCRLBundle(data)
	if err != nil {
		return time.Time{}, err
	}

	now := s.clock.Now()
	var next time.Time
	for _, crl := range crls {
		if crl.NextUpdate.IsZero() {
			continue
		}
		if !crl.NextUpdate.After(now) {
			return time.Time{}, &StaleCRLError{
				Issuer:     crl.Issuer.String(),
				NextUpdate: crl.NextUpdate,
			}
		}
		if next.IsZero() || crl.NextUpdate.Before(next) {
			next = crl.NextUpdate
		}
	}
	return next, nil
}

// fetch downloads one URL, retrying transient failures with a
// constant backoff. Client errors are not retried.
func (s *Store) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %q", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryWait), fetchRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return body, nil
}

// marshalCRLBundle wraps the DER CRLs in a single DER SEQUENCE.
func marshalCRLBundle(ders [][]byte) ([]byte, error) {
	seq := make([]asn1.RawValue, len(ders))
	for i, der := range ders {
		seq[i] = asn1.RawValue{FullBytes: der}
	}
	return asn1.Marshal(seq)
}

// parseCRLBundle is the inverse of marshalCRLBundle.
func parseCRLBundle(data []byte) ([]*x509.RevocationList, error) {
	var seq []asn1.RawValue
	rest, err := asn1.Unmarshal(data, &seq)
	if err != nil {
		return nil, fmt.Errorf("cache: malformed CRL bundle: %w", err)
	}
	if len(rest) != 0 {
		return nil, errors.New("cache: trailing data in CRL bundle")
	}
	if len(seq) == 0 {
		return nil, errors.New("cache: empty CRL bundle")
	}

	crls := make([]*x509.RevocationList, len(seq))
	for i, raw := range seq {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("cache: CRL %d in bundle: %w", i, err)
		}
		crls[i] = crl
	}
	return crls, nil
}
