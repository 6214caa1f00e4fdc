package shm

import (
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/sealmem/internal/shm"
)

type SectionTestSuite struct {
	suite.Suite
}

func (s *SectionTestSuite) SetupSuite() {
	sec, err := Create(1, Options{})
	if errors.Is(err, errors.ErrUnsupported) {
		s.T().Skipf("platform not supported: %v", err)
	}
	s.Require().NoError(err)
	_ = sec.Release()
}

func (s *SectionTestSuite) TestCreateRejectsBadInput() {
	_, err := Create(0, Options{})
	s.Require().ErrorIs(err, ErrCreateFailed)

	_, err = Create(-1, Options{})
	s.Require().ErrorIs(err, ErrCreateFailed)

	_, err = Create(16, Options{Seal: ReadWrite})
	s.Require().ErrorIs(err, ErrCreateFailed)
}

func (s *SectionTestSuite) TestLifecycle() {
	sec, err := Create(128, Options{Name: "lifecycle", CheckAvailableMemory: true})
	s.Require().NoError(err)
	defer sec.Release()

	s.Equal(StateBacked, sec.State())
	s.Nil(sec.Bytes())
	s.Equal(128, sec.Size())
	s.Equal("lifecycle", sec.Name())
	s.Equal(ReadOnly, sec.Protection())

	rw, err := sec.MapWritable()
	s.Require().NoError(err)
	s.Len(rw, 128)
	s.Equal(StateWritable, sec.State())

	ro, err := sec.Seal()
	s.Require().NoError(err)
	s.Len(ro, 128)
	s.Equal(StateSealed, sec.State())
	s.Equal(&ro[0], &sec.Bytes()[0])

	s.Require().NoError(sec.Release())
	s.Equal(StateReleased, sec.State())
	s.Nil(sec.Bytes())
}

func (s *SectionTestSuite) TestSealPreservesBytes() {
	for _, size := range []int{1, 7, 4096, 4097, 3 * 4096} {
		sec, err := Create(size, Options{})
		s.Require().NoError(err)

		pattern := make([]byte, size)
		_, _ = rand.Read(pattern)

		rw, err := sec.MapWritable()
		s.Require().NoError(err)
		copy(rw, pattern)

		ro, err := sec.Seal()
		s.Require().NoError(err)
		s.Equal(pattern, ro, "size %d", size)
		s.Require().NoError(sec.Release())
	}
}

func (s *SectionTestSuite) TestMapWritableTwice() {
	sec, err := Create(8, Options{})
	s.Require().NoError(err)
	defer sec.Release()

	_, err = sec.MapWritable()
	s.Require().NoError(err)
	_, err = sec.MapWritable()
	s.Require().ErrorIs(err, ErrContractViolation)
	s.Equal(StateWritable, sec.State())
}

func (s *SectionTestSuite) TestSealRequiresWritable() {
	sec, err := Create(8, Options{})
	s.Require().NoError(err)
	defer sec.Release()

	_, err = sec.Seal()
	s.Require().ErrorIs(err, ErrContractViolation)

	_, err = sec.MapWritable()
	s.Require().NoError(err)
	_, err = sec.Seal()
	s.Require().NoError(err)

	// sealing is monotonic
	_, err = sec.Seal()
	s.Require().ErrorIs(err, ErrContractViolation)
	_, err = sec.MapWritable()
	s.Require().ErrorIs(err, ErrContractViolation)
	s.Equal(StateSealed, sec.State())
}

func (s *SectionTestSuite) TestReleaseIdempotent() {
	sec, err := Create(8, Options{})
	s.Require().NoError(err)
	s.Require().NoError(sec.Release())
	s.Require().NoError(sec.Release())

	_, err = sec.MapWritable()
	s.Require().ErrorIs(err, ErrContractViolation)
}

func (s *SectionTestSuite) TestReleaseWhileWritable() {
	sec, err := Create(8, Options{})
	s.Require().NoError(err)
	_, err = sec.MapWritable()
	s.Require().NoError(err)
	s.Require().NoError(sec.Release())
	s.Equal(StateReleased, sec.State())
}

func (s *SectionTestSuite) TestSealFailureAfterUnmapBreaks() {
	sec, err := Create(64, Options{Name: "broken"})
	s.Require().NoError(err)
	defer sec.Release()
	rw, err := sec.MapWritable()
	s.Require().NoError(err)
	copy(rw, "lost")

	// the writable view is dropped before the backing object is touched
	s.Require().NoError(sec.obj.Close())
	view, err := sec.Seal()
	s.Nil(view)
	s.Require().ErrorIs(err, ErrSealFailed)
	s.Require().ErrorIs(err, internalshm.ErrClosed)
	s.Equal(StateBroken, sec.State())
	s.Nil(sec.Bytes())

	_, err = sec.Seal()
	s.Require().ErrorIs(err, ErrContractViolation)
	_, err = sec.MapWritable()
	s.Require().ErrorIs(err, ErrContractViolation)

	s.Require().NoError(sec.Release())
	s.Equal(StateReleased, sec.State())
}

func (s *SectionTestSuite) TestStateString() {
	s.Equal("sealed", StateSealed.String())
	s.Equal("State(42)", State(42).String())
}

func TestSectionTestSuite(t *testing.T) {
	suite.Run(t, new(SectionTestSuite))
}
