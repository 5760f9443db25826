package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalJSON(t *testing.T) {
	type event struct {
		GoodID int64 `json:"good_id"`
		Price  int64 `json:"price"`
	}

	e, err := UnmarshalJSON[event]([]byte(`{"good_id":3,"price":120}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.GoodID)
	assert.Equal(t, int64(120), e.Price)

	_, err = UnmarshalJSON[event]([]byte(`{`))
	assert.Error(t, err)
}

func TestSubscriberDispatch(t *testing.T) {
	var got []string
	s := &Subscriber{handler: func(subject string, data []byte) error {
		got = append(got, subject+":"+string(data))
		return nil
	}}
	s.dispatch(&nats.Msg{Subject: SubjectTrades, Data: []byte("x")})
	assert.Equal(t, []string{"market.trades:x"}, got)
}
