package cache

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	testclock "k8s.io/utils/clock/testing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// issueTime anchors every generated artifact and fake clock.
var issueTime = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func testIssuer(t *testing.T) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "warden test CA"},
		NotBefore:             issueTime.Add(-time.Hour),
		NotAfter:              issueTime.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(err)
	return cert, key
}

func makeCRL(t *testing.T, issuer *x509.Certificate, key *ecdsa.PrivateKey, number int64, nextUpdate time.Time) []byte {
	t.Helper()
	template := &x509.RevocationList{
		Number:     big.NewInt(number),
		ThisUpdate: issueTime,
		NextUpdate: nextUpdate,
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, issuer, key)
	require.NoError(t, err)
	return der
}

func testStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	return &Store{
		dir:       t.TempDir(),
		base:      kdsBase,
		client:    http.DefaultClient,
		clock:     testclock.NewFakeClock(now),
		retryWait: time.Millisecond,
	}
}

// serveCRLs backs the store with an HTTP server handing out the given
// body per product line.
func serveCRLs(t *testing.T, store *Store, handler http.Handler) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Client().CloseIdleConnections()
		server.Close()
	})
	store.base = server.URL
	store.client = server.Client()
}

func TestFetchCRLsWritesBundle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, key := testIssuer(t)
	milanNext := issueTime.Add(14 * 24 * time.Hour)
	genoaNext := issueTime.Add(7 * 24 * time.Hour)
	milanDER := makeCRL(t, issuer, key, 1, milanNext)
	genoaDER := makeCRL(t, issuer, key, 2, genoaNext)

	store := testStore(t, issueTime)
	mux := http.NewServeMux()
	mux.HandleFunc("/Milan/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(milanDER)
	})
	mux.HandleFunc("/Genoa/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(genoaDER)
	})
	serveCRLs(t, store, mux)

	require.NoError(store.FetchCRLs(context.Background()))

	data, err := os.ReadFile(filepath.Join(store.dir, crlFile))
	require.NoError(err)
	crls, err := parseCRLBundle(data)
	require.NoError(err)
	assert.Len(crls, len(productLines))

	// The bundle goes stale when its earliest CRL does.
	next, err := store.CheckCRLs()
	require.NoError(err)
	assert.True(next.Equal(genoaNext), "expected next update %v, got %v", genoaNext, next)
}

func TestFetchCRLsRetriesTransientFailures(t *testing.T) {
	require := require.New(t)

	issuer, key := testIssuer(t)
	store := testStore(t, issueTime)
	milanDER := makeCRL(t, issuer, key, 1, issueTime.Add(24*time.Hour))
	genoaDER := makeCRL(t, issuer, key, 2, issueTime.Add(24*time.Hour))

	var milanHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/Milan/crl", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&milanHits, 1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(milanDER)
	})
	mux.HandleFunc("/Genoa/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(genoaDER)
	})
	serveCRLs(t, store, mux)

	require.NoError(store.FetchCRLs(context.Background()))
	require.EqualValues(3, atomic.LoadInt32(&milanHits))
}

func TestFetchCRLsClientErrorNotRetried(t *testing.T) {
	assert := assert.New(t)

	issuer, key := testIssuer(t)
	store := testStore(t, issueTime)
	milanDER := makeCRL(t, issuer, key, 1, issueTime.Add(24*time.Hour))

	var genoaHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/Milan/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(milanDER)
	})
	mux.HandleFunc("/Genoa/crl", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&genoaHits, 1)
		http.NotFound(w, r)
	})
	serveCRLs(t, store, mux)

	err := store.FetchCRLs(context.Background())
	assert.Error(err)
	assert.Contains(err.Error(), "Genoa")
	assert.EqualValues(1, atomic.LoadInt32(&genoaHits))

	// Nothing was installed.
	_, err = store.CheckCRLs()
	assert.ErrorIs(err, ErrNoCRLCache)
}

func TestFetchCRLsRejectsInvalidDER(t *testing.T) {
	assert := assert.New(t)

	issuer, key := testIssuer(t)
	store := testStore(t, issueTime)
	genoaDER := makeCRL(t, issuer, key, 2, issueTime.Add(24*time.Hour))

	mux := http.NewServeMux()
	mux.HandleFunc("/Milan/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("this is not a CRL"))
	})
	mux.HandleFunc("/Genoa/crl", func(w http.ResponseWriter, _ *http.Request) {
		w.Write(genoaDER)
	})
	serveCRLs(t, store, mux)

	err := store.FetchCRLs(context.Background())
	assert.Error(err)
	assert.Contains(err.Error(), "Milan")

	_, err = store.CheckCRLs()
	assert.ErrorIs(err, ErrNoCRLCache)
}

func TestFetchCRLsKeepsOldBundleOnFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	issuer, key := testIssuer(t)
	oldNext := issueTime.Add(24 * time.Hour)

	store := testStore(t, issueTime)
	bundle, err := marshalCRLBundle([][]byte{makeCRL(t, issuer, key, 1, oldNext)})
	require.NoError(err)
	require.NoError(os.WriteFile(filepath.Join(store.dir, crlFile), bundle, 0o644))

	serveCRLs(t, store, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))

	assert.Error(store.FetchCRLs(context.Background()))

	// The previous bundle is untouched.
	next, err := store.CheckCRLs()
	require.NoError(err)
	assert.True(next.Equal(oldNext))
}

func TestCheckCRLs(t *testing.T) {
	issuer, key := testIssuer(t)
	nextUpdate := issueTime.Add(7 * 24 * time.Hour)
	bundle, err := marshalCRLBundle([][]byte{makeCRL(t, issuer, key, 1, nextUpdate)})
	require.NoError(t, err)

	testCases := map[string]struct {
		bundle    []byte
		now       time.Time
		wantStale bool
		wantErr   bool
	}{
		"fresh": {
			bundle: bundle,
			now:    issueTime,
		},
		"expired": {
			bundle:    bundle,
			now:       nextUpdate.Add(time.Hour),
			wantStale: true,
		},
		"expires this instant": {
			bundle:    bundle,
			now:       nextUpdate,
			wantStale: true,
		},
		"corrupt": {
			bundle:  []byte("garbage"),
			now:     issueTime,
			wantErr: true,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			store := testStore(t, tc.now)
			require.NoError(t, os.WriteFile(filepath.Join(store.dir, crlFile), tc.bundle, 0o644))

			next, err := store.CheckCRLs()
			switch {
			case tc.wantStale:
				var stale *StaleCRLError
				require.ErrorAs(t, err, &stale)
				assert.True(stale.NextUpdate.Equal(nextUpdate))
			case tc.wantErr:
				assert.Error(err)
			default:
				require.NoError(t, err)
				assert.True(next.Equal(nextUpdate), "expected next update %v, got %v", nextUpdate, next)
			}
		})
	}
}

func TestCheckCRLsMissing(t *testing.T) {
	store := testStore(t, issueTime)
	_, err := store.CheckCRLs()
	assert.ErrorIs(t, err, ErrNoCRLCache)
}

func TestStaleCRLError(t *testing.T) {
	err := &StaleCRLError{Issuer: "CN=warden test CA", NextUpdate: issueTime}
	assert.Contains(t, err.Error(), "CN=warden test CA")
	assert.Contains(t, err.Error(), "2026-01-10")
}

func TestDir(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("WARDEN_CACHE_DIR", dir)

		got, err := Dir()
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})

	t.Run("missing directory", func(t *testing.T) {
		t.Setenv("WARDEN_CACHE_DIR", filepath.Join(t.TempDir(), "nope"))

		_, err := Dir()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exist")
	})

	t.Run("not a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		t.Setenv("WARDEN_CACHE_DIR", file)

		_, err := Dir()
		assert.Error(t, err)
	})
}

func TestNewStoreUsesResolvedDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WARDEN_CACHE_DIR", dir)

	store, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())
}
