package stream

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnibridge/core/events"
)

func TestHubFiltersByChainAndType(t *testing.T) {
	hub := NewHub(4)
	all, cancelAll := hub.Subscribe(Filter{})
	defer cancelAll()
	fixes, cancelFixes := hub.Subscribe(Filter{Chain: "foreign", Type: events.TypeFailedMessageFixed})
	defer cancelFixes()

	id := common.HexToHash("0x01")
	hub.Emitter("home").Emit(events.TokensBridged{Token: common.HexToAddress("0x7002"), Recipient: common.HexToAddress("0x0b"), Value: big.NewInt(1), MessageID: id})
	hub.Emitter("foreign").Emit(events.FailedMessageFixed{MessageID: id, Token: common.HexToAddress("0x7001"), Recipient: common.HexToAddress("0x0b"), Value: big.NewInt(1)})

	first := <-all
	require.Equal(t, "home", first.Chain)
	require.Equal(t, events.TypeTokensBridged, first.Type)
	require.Equal(t, id.Hex(), first.Attributes["messageId"])
	second := <-all
	require.Equal(t, events.TypeFailedMessageFixed, second.Type)

	fixed := <-fixes
	require.Equal(t, "foreign", fixed.Chain)
	require.Len(t, fixes, 0)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe(Filter{})
	emitter := hub.Emitter("home")
	emitter.Emit(events.TokensBridged{Value: big.NewInt(1)})
	emitter.Emit(events.TokensBridged{Value: big.NewInt(2)})
	require.Equal(t, uint64(1), hub.Dropped())
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	require.Equal(t, 0, hub.Subscribers())
	<-ch
	_, open := <-ch
	require.False(t, open)
}
