package region

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

type VaultTestSuite struct {
	suite.Suite
	vault *Vault
}

func (s *VaultTestSuite) SetupSuite() {
	skipIfUnsupported(s.T())
}

func (s *VaultTestSuite) SetupTest() {
	s.vault = NewVault()
}

func (s *VaultTestSuite) TearDownTest() {
	s.Require().NoError(s.vault.Close(context.Background()))
}

func (s *VaultTestSuite) TestRegisterAndLookup() {
	settings, err := NewCell("settings", gameSettings{TickRate: 100}, nil)
	s.Require().NoError(err)
	counters, err := NewCell("counters", triple{1, 2, 3}, nil)
	s.Require().NoError(err)

	s.Require().NoError(s.vault.Register(settings))
	s.Require().NoError(s.vault.Register(counters))
	s.Equal(2, s.vault.Len())
	s.Equal([]string{"counters", "settings"}, s.vault.Names())

	got, ok := s.vault.Lookup("settings")
	s.Require().True(ok)
	s.Equal("settings", got.Name())

	c, ok := LookupCell[gameSettings](s.vault, "settings")
	s.Require().True(ok)
	s.Same(settings, c)

	_, ok = LookupCell[triple](s.vault, "settings")
	s.False(ok)
	_, ok = LookupCell[triple](s.vault, "missing")
	s.False(ok)
	s.NoError(s.vault.VerifyAll())
}

func (s *VaultTestSuite) TestDuplicateName() {
	a, err := NewCell("dup", uint64(1), nil)
	s.Require().NoError(err)
	b, err := NewCell("dup", uint64(2), nil)
	s.Require().NoError(err)
	defer b.Close(context.Background())

	s.Require().NoError(s.vault.Register(a))
	s.Require().ErrorIs(s.vault.Register(b), ErrDuplicateName)

	c, ok := LookupCell[uint64](s.vault, "dup")
	s.Require().True(ok)
	v, err := c.Load()
	s.Require().NoError(err)
	s.Equal(uint64(1), v)
}

func (s *VaultTestSuite) TestRemoveDoesNotClose() {
	c, err := NewCell("removed", uint64(9), nil)
	s.Require().NoError(err)
	s.Require().NoError(s.vault.Register(c))

	got, ok := s.vault.Remove("removed")
	s.Require().True(ok)
	s.Same(c, got)
	s.Equal(0, s.vault.Len())

	v, err := c.Load()
	s.Require().NoError(err)
	s.Equal(uint64(9), v)
	s.Require().NoError(c.Close(context.Background()))
}

func (s *VaultTestSuite) TestVerifyAllReportsClosedCell() {
	c, err := NewCell("closed", uint64(1), nil)
	s.Require().NoError(err)
	s.Require().NoError(s.vault.Register(c))
	s.Require().NoError(c.Close(context.Background()))

	err = s.vault.VerifyAll()
	s.Require().ErrorIs(err, ErrUseAfterRetire)
	s.ErrorContains(err, "closed")
}

func (s *VaultTestSuite) TestCloseRetiresEverything() {
	c, err := NewCell("last", triple{}, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.vault.Register(c))
	r := c.current.Load().region

	s.Require().NoError(s.vault.Close(context.Background()))
	s.Equal(0, s.vault.Len())
	s.Equal(StateRetired, r.State())
	_, err = c.Load()
	s.ErrorIs(err, ErrUseAfterRetire)
}

func TestVaultTestSuite(t *testing.T) {
	suite.Run(t, new(VaultTestSuite))
}
