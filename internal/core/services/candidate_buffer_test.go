package services

import (
	"fmt"
	"testing"

	"pairlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(n int) domain.Candidate {
	return domain.Candidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 192.168.1.10 5000%d typ host", n, n)}
}

func TestCandidateBuffer_FlushPreservesOrder(t *testing.T) {
	buf := NewCandidateBuffer(8)

	for i := 0; i < 3; i++ {
		assert.True(t, buf.Push(candidate(i)))
	}
	assert.Equal(t, 3, buf.Len())

	var applied []domain.Candidate
	count, err := buf.Flush(func(c domain.Candidate) error {
		applied = append(applied, c)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, applied, 3)
	for i, c := range applied {
		assert.Equal(t, candidate(i), c)
	}
	assert.True(t, buf.Flushed())
	assert.Equal(t, 0, buf.Len())
}

func TestCandidateBuffer_FlushIsOnceOnly(t *testing.T) {
	buf := NewCandidateBuffer(8)
	buf.Push(candidate(1))

	count, err := buf.Flush(func(domain.Candidate) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = buf.Flush(func(domain.Candidate) error {
		t.Fatal("second flush must not apply anything")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCandidateBuffer_DropsOldestAtCapacity(t *testing.T) {
	buf := NewCandidateBuffer(2)

	assert.True(t, buf.Push(candidate(0)))
	assert.True(t, buf.Push(candidate(1)))
	assert.False(t, buf.Push(candidate(2)))

	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 1, buf.Dropped())

	var applied []domain.Candidate
	buf.Flush(func(c domain.Candidate) error {
		applied = append(applied, c)
		return nil
	})

	require.Len(t, applied, 2)
	assert.Equal(t, candidate(1), applied[0])
	assert.Equal(t, candidate(2), applied[1])
}

func TestCandidateBuffer_FlushReportsFirstErrorButContinues(t *testing.T) {
	buf := NewCandidateBuffer(8)
	for i := 0; i < 3; i++ {
		buf.Push(candidate(i))
	}

	var seen int
	count, err := buf.Flush(func(c domain.Candidate) error {
		seen++
		if seen == 2 {
			return fmt.Errorf("bad candidate")
		}
		return nil
	})

	assert.Error(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 2, count)
}

func TestCandidateBuffer_DefaultCapacity(t *testing.T) {
	buf := NewCandidateBuffer(0)
	for i := 0; i < DefaultCandidateBufferCap; i++ {
		assert.True(t, buf.Push(candidate(i)))
	}
	assert.False(t, buf.Push(candidate(DefaultCandidateBufferCap)))
}
