package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kornnellio/procd/internal/wire"
)

func TestLocalSendDelivers(t *testing.T) {
	l := NewLocal(4)
	l.Send(wire.Orders{Host: "h1"})

	select {
	case o := <-l.Orders():
		assert.Equal(t, "h1", o.Host)
	default:
		t.Fatal("expected orders to be immediately available")
	}
}

func TestLocalPublishRecordsHistory(t *testing.T) {
	l := NewLocal(1)
	require.NoError(t, l.PublishInfo(wire.Info{Host: "h1"}))
	require.NoError(t, l.PublishPrintf(wire.Printf{Text: "hello"}))

	assert.Len(t, l.Infos(), 1)
	assert.Len(t, l.Printfs(), 1)
	assert.Equal(t, "hello", l.Printfs()[0].Text)
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	l := NewLocal(1)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
