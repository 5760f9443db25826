package kafka

import (
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	key   string
	value string
	err   error
}

func (m testMessage) Topic() string          { return "test_topic" }
func (m testMessage) Key() string            { return m.key }
func (m testMessage) Value() ([]byte, error) { return []byte(m.value), m.err }

func mockProducer(t *testing.T) (*Producer, *mocks.AsyncProducer) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"}).saramaConfig()
	mp := mocks.NewAsyncProducer(t, cfg)
	return newProducer(mp), mp
}

func TestSaramaConfig(t *testing.T) {
	sc := DefaultProducerConfig(nil).saramaConfig()
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionSnappy, sc.Producer.Compression)
	assert.True(t, sc.Producer.Return.Errors)

	sc = ProducerConfig{RequiredAcks: 1, Compression: "zstd"}.saramaConfig()
	assert.Equal(t, sarama.WaitForLocal, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
}

func TestSendBatch(t *testing.T) {
	p, mp := mockProducer(t)
	mp.ExpectInputAndSucceed()
	mp.ExpectInputAndSucceed()

	err := p.SendBatch([]Message{
		testMessage{key: "1", value: "a"},
		testMessage{key: "2", value: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Equal(t, int64(2), p.Stats().SentCount)
	assert.Equal(t, int64(0), p.Stats().ErrorCount)
}

func TestSendBatch_SerializeErrorSendsNothing(t *testing.T) {
	p, _ := mockProducer(t)
	boom := errors.New("boom")

	err := p.SendBatch([]Message{
		testMessage{key: "1", value: "a"},
		testMessage{key: "2", err: boom},
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, p.Close())
	assert.Equal(t, int64(0), p.Stats().SentCount)
}

func TestSendErrorsAreCounted(t *testing.T) {
	p, mp := mockProducer(t)
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	require.NoError(t, p.Send(testMessage{key: "1", value: "a"}))
	require.Eventually(t, func() bool {
		return p.Stats().ErrorCount == 1
	}, time.Second, 5*time.Millisecond)
	p.Close()
}

func TestSendAfterClose(t *testing.T) {
	p, _ := mockProducer(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send(testMessage{key: "1"}), ErrProducerClosed)
}
