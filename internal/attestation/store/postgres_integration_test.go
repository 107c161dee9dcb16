//go:build integration

package store_test

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"proveniq-ops/internal/attestation/keys"
	"proveniq-ops/internal/attestation/store"
)

type PostgresKeyStoreSuite struct {
	suite.Suite

	ctx       context.Context
	container *tcpostgres.PostgresContainer
	db        *sql.DB
}

func TestPostgresKeyStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresKeyStoreSuite))
}

func (s *PostgresKeyStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := tcpostgres.Run(s.ctx, "postgres:16-alpine",
		tcpostgres.WithInitScripts(filepath.Join("..", "..", "..", "migrations", "001_init.sql")),
		tcpostgres.WithDatabase("ops"),
		tcpostgres.WithUsername("ops"),
		tcpostgres.WithPassword("ops"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sql.Open("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(db.PingContext(s.ctx))
	s.db = db
}

func (s *PostgresKeyStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresKeyStoreSuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx, `TRUNCATE attestation_keys`)
	s.Require().NoError(err)
}

// A signing key created by one process must stay decryptable by the next
// process reading the same row. The ciphertext has to survive the database
// round trip byte for byte or the AEAD open fails.
func (s *PostgresKeyStoreSuite) TestKeySurvivesReload() {
	const masterKey = "ops-master-key"

	first, err := keys.NewManager(store.NewPostgresKeyStore(s.db), masterKey)
	s.Require().NoError(err)
	keyID, private, err := first.ActiveSigner(s.ctx)
	s.Require().NoError(err)

	// A fresh manager simulates a restart: nothing cached, everything
	// comes back from the row.
	second, err := keys.NewManager(store.NewPostgresKeyStore(s.db), masterKey)
	s.Require().NoError(err)
	reloadedID, reloadedPrivate, err := second.ActiveSigner(s.ctx)
	s.Require().NoError(err)
	s.Equal(keyID, reloadedID)
	s.Equal(private, reloadedPrivate)

	message := []byte("attestation payload digest")
	signature := ed25519.Sign(reloadedPrivate, message)
	public, err := second.PublicKey(s.ctx, reloadedID)
	s.Require().NoError(err)
	s.True(ed25519.Verify(public, message, signature))
}

func (s *PostgresKeyStoreSuite) TestCiphertextRoundTripsExactly() {
	keyStore := store.NewPostgresKeyStore(s.db)
	manager, err := keys.NewManager(keyStore, "ops-master-key")
	s.Require().NoError(err)
	keyID, _, err := manager.ActiveSigner(s.ctx)
	s.Require().NoError(err)

	stored, err := keyStore.FindByKeyID(s.ctx, keyID)
	s.Require().NoError(err)
	s.Equal(keyID, stored.KeyID)
	s.Equal("active", stored.Status)

	active, err := keyStore.Active(s.ctx)
	s.Require().NoError(err)
	s.Equal(stored.PrivateKeyEncrypted, active.PrivateKeyEncrypted)

	// Ciphertext is nonce plus sealed PKCS#8 DER, never ASCII.
	s.Greater(len(stored.PrivateKeyEncrypted), 24)
}
