package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	dir   string
	store *Store
}

func (suite *StoreTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	suite.store = New(suite.dir)
}

func (suite *StoreTestSuite) TestPutGetRoundtrip() {
	data := []byte("the quick brown fox")

	hash, err := suite.store.Put(data)
	suite.Require().NoError(err)
	suite.Len(hash, 64)

	sum := sha256.Sum256(data)
	suite.Equal(hex.EncodeToString(sum[:]), hash)

	got, err := suite.store.Get(hash)
	suite.Require().NoError(err)
	suite.Equal(data, got)
	suite.True(suite.store.Has(hash))
}

func (suite *StoreTestSuite) TestPutIsIdempotent() {
	data := []byte("ping")

	hash, err := suite.store.Put(data)
	suite.Require().NoError(err)

	// Corrupt the stored file: a second Put must not rewrite it.
	path := filepath.Join(suite.dir, hash)
	suite.Require().NoError(os.WriteFile(path, []byte("tampered"), 0644))

	again, err := suite.store.Put(data)
	suite.Require().NoError(err)
	suite.Equal(hash, again)

	got, err := suite.store.Get(hash)
	suite.Require().NoError(err)
	suite.Equal([]byte("tampered"), got)
}

func (suite *StoreTestSuite) TestGetUppercaseHash() {
	hash, err := suite.store.Put([]byte("case test"))
	suite.Require().NoError(err)

	got, err := suite.store.Get(strings.ToUpper(hash))
	suite.Require().NoError(err)
	suite.Equal([]byte("case test"), got)
}

func (suite *StoreTestSuite) TestGetMissing() {
	_, err := suite.store.Get("ab" + strings.Repeat("0", 62))
	suite.ErrorIs(err, ErrNotFound)
}

func (suite *StoreTestSuite) TestGetInvalidHash() {
	_, err := suite.store.Get("not-a-hash")
	suite.ErrorIs(err, ErrNotFound)

	_, err = suite.store.Get("../../etc/passwd")
	suite.ErrorIs(err, ErrNotFound)

	suite.False(suite.store.Has("zz"))
}

func (suite *StoreTestSuite) TestValidHash() {
	suite.True(ValidHash(strings.Repeat("a", 64)))
	suite.True(ValidHash(strings.Repeat("A", 64)))
	suite.False(ValidHash(strings.Repeat("a", 63)))
	suite.False(ValidHash(strings.Repeat("a", 65)))
	suite.False(ValidHash(strings.Repeat("g", 64)))
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
